package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/OABroadcast/internal/api"
	"github.com/Mutter0815/OABroadcast/internal/store"
	"github.com/Mutter0815/OABroadcast/pkg/httpx"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
)

type storeAPI interface {
	GetRun(ctx context.Context, id string) (store.RunRow, error)
	GetRunStats(ctx context.Context, id string) (store.RunStats, error)
	ListRuns(ctx context.Context, limit, offset int) ([]store.RunRow, []store.RunStats, error)
	ListOutcomes(ctx context.Context, runID string) ([]store.OutcomeRow, error)
}

type Handlers struct {
	Store storeAPI
}

func NewHandlers(s *store.Store) *Handlers {
	return &Handlers{Store: s}
}

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := httpx.NewEngine()
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
	return httpx.NewServer(addr, r)
}

func toStats(st store.RunStats) api.RunStats {
	return api.RunStats{Total: st.Total, Sent: st.Sent, Cooldown: st.Cooldown, Invalid: st.Invalid, Failed: st.Failed}
}

func toItem(r store.RunRow, st store.RunStats) api.RunListItem {
	return api.RunListItem{
		ID:         r.ID,
		State:      r.State,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Stats:      toStats(st),
	}
}

func (h *Handlers) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rows, stats, err := h.Store.ListRuns(ctx, limit, offset)
	if err != nil {
		logx.L().Errorw("list_runs_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}

	out := make([]api.RunListItem, 0, len(rows))
	for i, r := range rows {
		out = append(out, toItem(r, stats[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetRun(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	run, err := h.Store.GetRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		logx.L().Errorw("get_run_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get error"})
		return
	}

	stats, err := h.Store.GetRunStats(ctx, id)
	if err != nil {
		logx.L().Errorw("get_run_stats_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	outcomes, err := h.Store.ListOutcomes(ctx, id)
	if err != nil {
		logx.L().Errorw("list_outcomes_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "outcomes error"})
		return
	}

	resp := api.RunDetails{
		RunListItem: toItem(run, stats),
		ArchivedAt:  run.ArchivedAt,
		Outcomes:    make([]api.RunOutcome, len(outcomes)),
	}
	for i, o := range outcomes {
		resp.Outcomes[i] = api.RunOutcome{
			RecipientID: o.RecipientID,
			Status:      o.Status,
			Reason:      o.Reason,
			GatewayCode: o.GatewayCode,
			Code:        o.Code,
			At:          o.At,
		}
	}
	c.JSON(http.StatusOK, resp)
}

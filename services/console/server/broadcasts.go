package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/OABroadcast/internal/api"
	"github.com/Mutter0815/OABroadcast/internal/broadcast"
	"github.com/Mutter0815/OABroadcast/internal/history"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
)

// request snapshots everything a send needs at the moment it is asked for.
// Later edits to the list or template do not reach a running broadcast.
func (h *Handlers) request(c *gin.Context) (broadcast.Request, error) {
	ctx, cancel := opCtx(c)
	defer cancel()

	tok, err := h.Prefs.Token(ctx)
	if err != nil {
		return broadcast.Request{}, err
	}
	att, err := h.Prefs.CurrentAttachment(ctx)
	if err != nil {
		return broadcast.Request{}, err
	}
	return broadcast.Request{
		Recipients:   h.Recipients.All(),
		Template:     h.ws.template(),
		AttachmentID: att,
		Token:        tok,
	}, nil
}

func (h *Handlers) StartBroadcast(c *gin.Context) {
	req, err := h.request(c)
	if err != nil {
		internalError(c, "broadcast_prepare_error", err)
		return
	}

	id, err := h.Runner.Start(req)
	switch {
	case errors.Is(err, broadcast.ErrNoRecipients):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, broadcast.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		internalError(c, "broadcast_start_error", err)
		return
	}

	logx.L().Infow("broadcast_accepted", "run_id", id, "recipients", len(req.Recipients))
	c.JSON(http.StatusAccepted, api.StartBroadcastResp{RunID: id})
}

func (h *Handlers) CurrentBroadcast(c *gin.Context) {
	c.JSON(http.StatusOK, h.Runner.Snapshot())
}

func (h *Handlers) CancelBroadcast(c *gin.Context) {
	if !h.Runner.Cancel() {
		c.JSON(http.StatusConflict, gin.H{"error": "no broadcast is running"})
		return
	}
	c.JSON(http.StatusAccepted, h.Runner.Snapshot())
}

func (h *Handlers) SelfTest(c *gin.Context) {
	req, err := h.request(c)
	if err != nil {
		internalError(c, "broadcast_prepare_error", err)
		return
	}
	self, err := h.Prefs.SelfID(c.Request.Context())
	if err != nil {
		internalError(c, "settings_read_error", err)
		return
	}

	out, err := h.SelfSender.SendSelf(c.Request.Context(), req, self)
	if errors.Is(err, broadcast.ErrNoSelfID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		internalError(c, "self_test_error", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) ListCooldowns(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	es, err := h.Ledger.Entries(ctx)
	if err != nil {
		internalError(c, "cooldown_read_error", err)
		return
	}
	c.JSON(http.StatusOK, es)
}

func (h *Handlers) ClearCooldowns(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.Ledger.Clear(ctx); err != nil {
		internalError(c, "cooldown_clear_error", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListHistory(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	items, err := h.History.List(ctx)
	if err != nil {
		internalError(c, "history_read_error", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handlers) DeleteHistoryItem(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	err := h.History.DeleteOne(ctx, c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		internalError(c, "history_delete_error", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteHistoryItems(c *gin.Context) {
	var req api.DeleteHistoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := opCtx(c)
	defer cancel()

	n, err := h.History.DeleteMany(ctx, req.IDs)
	if err != nil {
		internalError(c, "history_delete_error", err)
		return
	}
	c.JSON(http.StatusOK, api.DeleteHistoryResp{Deleted: n})
}

func (h *Handlers) ClearHistory(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	if err := h.History.ClearAll(ctx); err != nil {
		internalError(c, "history_clear_error", err)
		return
	}
	c.Status(http.StatusNoContent)
}

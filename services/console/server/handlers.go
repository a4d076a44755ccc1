package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/OABroadcast/internal/api"
	"github.com/Mutter0815/OABroadcast/internal/broadcast"
	"github.com/Mutter0815/OABroadcast/internal/compose"
	"github.com/Mutter0815/OABroadcast/internal/cooldown"
	"github.com/Mutter0815/OABroadcast/internal/gateway"
	"github.com/Mutter0815/OABroadcast/internal/history"
	"github.com/Mutter0815/OABroadcast/internal/prefs"
	"github.com/Mutter0815/OABroadcast/internal/recipient"
	"github.com/Mutter0815/OABroadcast/pkg/httpx"
	"github.com/Mutter0815/OABroadcast/pkg/logx"
)

// MaxImageSize is the largest banner the gateway accepts.
const MaxImageSize = 5 << 20

type uploaderAPI interface {
	UploadImage(ctx context.Context, token, filename string, r io.Reader) (string, error)
}

type directoryAPI interface {
	Fetch(ctx context.Context, token string, q gateway.ListQuery) ([]recipient.Recipient, int, error)
	Forget()
}

type runnerAPI interface {
	Start(req broadcast.Request) (string, error)
	Snapshot() broadcast.Snapshot
	Cancel() bool
}

type selfSenderAPI interface {
	SendSelf(ctx context.Context, req broadcast.Request, selfID string) (broadcast.Outcome, error)
}

// workspace is the template being edited. The raw body is kept while the
// auto-formatted one is active so it can be restored.
type workspace struct {
	mu      sync.RWMutex
	tpl     compose.Template
	rawBody *string
}

func (w *workspace) template() compose.Template {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t := w.tpl
	t.TableRows = append([]compose.TableRow(nil), w.tpl.TableRows...)
	return t
}

type Deps struct {
	Prefs      *prefs.Prefs
	Recipients *recipient.List
	Ledger     *cooldown.Ledger
	History    *history.Book
	Uploader   uploaderAPI
	Directory  directoryAPI
	Runner     runnerAPI
	SelfSender selfSenderAPI
}

type Handlers struct {
	Deps
	ws workspace
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{Deps: d, ws: workspace{tpl: compose.DefaultTemplate()}}
}

func opCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 5*time.Second)
}

func internalError(c *gin.Context, event string, err error) {
	logx.L().Errorw(event, "rid", c.GetString(httpx.RequestIDKey), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// gatewayError maps a failed gateway call to a response.
func gatewayError(c *gin.Context, err error) {
	var apiErr *gateway.APIError
	var httpErr *gateway.HTTPError
	switch {
	case errors.Is(err, gateway.ErrNoToken), errors.Is(err, gateway.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Message, "gateway_code": apiErr.Code})
	case errors.As(err, &httpErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway unavailable", "gateway_status": httpErr.Status})
	default:
		logx.L().Warnw("gateway_call_failed", "rid", c.GetString(httpx.RequestIDKey), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway unreachable"})
	}
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", 4) + tok[len(tok)-4:]
}

func (h *Handlers) GetSettings(c *gin.Context) {
	ctx, cancel := opCtx(c)
	defer cancel()

	tok, err := h.Prefs.Token(ctx)
	if err != nil {
		internalError(c, "settings_read_error", err)
		return
	}
	self, err := h.Prefs.SelfID(ctx)
	if err != nil {
		internalError(c, "settings_read_error", err)
		return
	}
	c.JSON(http.StatusOK, api.SettingsResp{
		AccessTokenSet:    tok != "",
		AccessTokenMasked: maskToken(tok),
		SelfUserID:        self,
	})
}

func (h *Handlers) PutSettings(c *gin.Context) {
	var req api.SettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := opCtx(c)
	defer cancel()

	if req.AccessToken != nil {
		if err := h.Prefs.SetToken(ctx, *req.AccessToken); err != nil {
			internalError(c, "settings_write_error", err)
			return
		}
		h.Directory.Forget()
		logx.L().Infow("access_token_updated", "set", strings.TrimSpace(*req.AccessToken) != "")
	}
	if req.SelfUserID != nil {
		if err := h.Prefs.SetSelfID(ctx, *req.SelfUserID); err != nil {
			internalError(c, "settings_write_error", err)
			return
		}
	}
	h.GetSettings(c)
}

func (h *Handlers) FetchDirectory(c *gin.Context) {
	var req api.FetchDirectoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := gateway.ListQuery{Offset: req.Offset, Count: req.Count, Period: req.Period, IsFollower: true}
	if req.IsFollower != nil {
		q.IsFollower = *req.IsFollower
	}

	tok, err := h.Prefs.Token(c.Request.Context())
	if err != nil {
		internalError(c, "settings_read_error", err)
		return
	}

	// one detail call per user; this can take a while
	rs, total, err := h.Directory.Fetch(c.Request.Context(), tok, q)
	if err != nil {
		gatewayError(c, err)
		return
	}
	h.Recipients.Replace(rs)
	c.JSON(http.StatusOK, api.FetchDirectoryResp{Total: total, Recipients: h.Recipients.All()})
}

func (h *Handlers) ListRecipients(c *gin.Context) {
	c.JSON(http.StatusOK, h.Recipients.All())
}

func (h *Handlers) ReplaceRecipients(c *gin.Context) {
	var req api.ReplaceRecipientsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.ReplaceRecipientsResp{Kept: h.Recipients.Replace(req.Recipients)})
}

func (h *Handlers) SetRecipientCode(c *gin.Context) {
	var req api.SetCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := h.Recipients.SetCode(id, req.Code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	r, _ := h.Recipients.Get(id)
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) RemoveRecipient(c *gin.Context) {
	if err := h.Recipients.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) GetTemplate(c *gin.Context) {
	c.JSON(http.StatusOK, h.ws.template())
}

func (h *Handlers) PutTemplate(c *gin.Context) {
	var t compose.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.ws.mu.Lock()
	h.ws.tpl = t
	h.ws.rawBody = nil
	h.ws.mu.Unlock()
	c.JSON(http.StatusOK, t)
}

func (h *Handlers) FormatBody(c *gin.Context) {
	h.ws.mu.Lock()
	defer h.ws.mu.Unlock()

	if h.ws.rawBody == nil {
		raw := h.ws.tpl.Body
		h.ws.rawBody = &raw
		h.ws.tpl.Body = compose.FormatBody(raw)
	}
	c.JSON(http.StatusOK, api.FormatBodyResp{Body: h.ws.tpl.Body, Original: *h.ws.rawBody})
}

func (h *Handlers) RestoreBody(c *gin.Context) {
	h.ws.mu.Lock()
	defer h.ws.mu.Unlock()

	if h.ws.rawBody == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "body is not formatted"})
		return
	}
	h.ws.tpl.Body = *h.ws.rawBody
	h.ws.rawBody = nil
	c.JSON(http.StatusOK, api.FormatBodyResp{Body: h.ws.tpl.Body})
}

func (h *Handlers) attachments(c *gin.Context) (api.AttachmentsResp, error) {
	ctx, cancel := opCtx(c)
	defer cancel()

	cur, err := h.Prefs.CurrentAttachment(ctx)
	if err != nil {
		return api.AttachmentsResp{}, err
	}
	recent, err := h.Prefs.RecentAttachments(ctx)
	if err != nil {
		return api.AttachmentsResp{}, err
	}
	return api.AttachmentsResp{Current: cur, Recent: recent}, nil
}

func (h *Handlers) UploadAttachment(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > MaxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image must be at most 5MB"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	head = head[:n]
	if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "file is not an image", "content_type": ct})
		return
	}

	tok, err := h.Prefs.Token(c.Request.Context())
	if err != nil {
		internalError(c, "settings_read_error", err)
		return
	}
	id, err := h.Uploader.UploadImage(c.Request.Context(), tok, fh.Filename, io.MultiReader(bytes.NewReader(head), f))
	if err != nil {
		gatewayError(c, err)
		return
	}

	ctx, cancel := opCtx(c)
	defer cancel()
	if _, err := h.Prefs.PushAttachment(ctx, id); err != nil {
		internalError(c, "attachment_save_error", err)
		return
	}
	logx.L().Infow("attachment_uploaded", "attachment_id", id, "size", fh.Size)

	resp, err := h.attachments(c)
	if err != nil {
		internalError(c, "attachment_read_error", err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) ListAttachments(c *gin.Context) {
	resp, err := h.attachments(c)
	if err != nil {
		internalError(c, "attachment_read_error", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) SelectAttachment(c *gin.Context) {
	var req api.SelectAttachmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := opCtx(c)
	defer cancel()
	if err := h.Prefs.SetCurrentAttachment(ctx, req.AttachmentID); err != nil {
		internalError(c, "attachment_save_error", err)
		return
	}
	h.ListAttachments(c)
}

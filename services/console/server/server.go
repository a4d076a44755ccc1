package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/OABroadcast/docs"
	"github.com/Mutter0815/OABroadcast/pkg/httpx"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := httpx.NewEngine()

	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", docs.ConsoleSwaggerHTML)
	})
	r.GET("/docs/console/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.ConsoleOpenAPI)
	})

	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.PutSettings)

	r.POST("/directory/fetch", h.FetchDirectory)

	r.GET("/recipients", h.ListRecipients)
	r.PUT("/recipients", h.ReplaceRecipients)
	r.PATCH("/recipients/:id", h.SetRecipientCode)
	r.DELETE("/recipients/:id", h.RemoveRecipient)

	r.GET("/template", h.GetTemplate)
	r.PUT("/template", h.PutTemplate)
	r.POST("/template/format-body", h.FormatBody)
	r.POST("/template/restore-body", h.RestoreBody)

	r.POST("/attachments", h.UploadAttachment)
	r.GET("/attachments", h.ListAttachments)
	r.PUT("/attachments/current", h.SelectAttachment)

	r.POST("/broadcasts", h.StartBroadcast)
	r.GET("/broadcasts/current", h.CurrentBroadcast)
	r.POST("/broadcasts/current/cancel", h.CancelBroadcast)
	r.POST("/self-test", h.SelfTest)

	r.GET("/cooldowns", h.ListCooldowns)
	r.DELETE("/cooldowns", h.ClearCooldowns)

	r.GET("/history", h.ListHistory)
	r.DELETE("/history", h.ClearHistory)
	r.DELETE("/history/:id", h.DeleteHistoryItem)
	r.POST("/history/delete", h.DeleteHistoryItems)

	return httpx.NewServer(addr, r)
}

// Package api exposes the admin HTTP surface: webhook registration
// CRUD, test pings, secret rotation, and delivery history.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	dispatch "github.com/hirewire/dispatch"
	"github.com/hirewire/dispatch/delivery"
	"github.com/hirewire/dispatch/id"
	"github.com/hirewire/dispatch/webhook"
)

// Handler serves the admin API on top of a Dispatcher.
type Handler struct {
	d *dispatch.Dispatcher
}

// NewHandler creates a new API handler.
func NewHandler(d *dispatch.Dispatcher) *Handler {
	return &Handler{d: d}
}

// Register mounts all routes onto the given router group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/events", h.listEvents)

	r.GET("/webhooks", h.listWebhooks)
	r.POST("/webhooks", h.createWebhook)
	r.GET("/webhooks/:id", h.getWebhook)
	r.PATCH("/webhooks/:id", h.updateWebhook)
	r.DELETE("/webhooks/:id", h.deleteWebhook)
	r.POST("/webhooks/:id/test", h.testWebhook)
	r.POST("/webhooks/:id/rotate-secret", h.rotateSecret)
	r.GET("/webhooks/:id/deliveries", h.listDeliveries)

	r.GET("/deliveries/:id", h.getDelivery)
}

// ──────────────────────────────────────────────────
// Request/response shapes
// ──────────────────────────────────────────────────

type createWebhookRequest struct {
	Name      string   `json:"name"`
	URL       string   `json:"url" binding:"required"`
	Secret    string   `json:"secret"`
	Events    []string `json:"events" binding:"required"`
	RateLimit int      `json:"rate_limit"`
}

type updateWebhookRequest struct {
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	RateLimit *int     `json:"rate_limit"`
	Active    *bool    `json:"is_active"`
}

// createdWebhookResponse carries the signing secret. It is returned
// only from create and rotate; every other response omits the secret.
type createdWebhookResponse struct {
	*webhook.Webhook
	Secret string `json:"secret"`
}

type eventResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ──────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────

func (h *Handler) listEvents(c *gin.Context) {
	cat := h.d.Catalog()
	if cat == nil {
		c.JSON(http.StatusOK, []eventResponse{})
		return
	}

	names := cat.Names()
	events := make([]eventResponse, 0, len(names))
	for _, name := range names {
		et, _ := cat.Get(name)
		events = append(events, eventResponse{Name: et.Name, Description: et.Description})
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) listWebhooks(c *gin.Context) {
	opts := webhook.ListOpts{
		Offset: queryInt(c, "offset"),
		Limit:  queryInt(c, "limit"),
	}
	if raw, ok := c.GetQuery("active"); ok {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active filter"})
			return
		}
		opts.Active = &active
	}

	hooks, err := h.d.Webhooks().List(c.Request.Context(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	if hooks == nil {
		hooks = []*webhook.Webhook{}
	}
	c.JSON(http.StatusOK, hooks)
}

func (h *Handler) createWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.d.Webhooks().Create(c.Request.Context(), webhook.Input{
		Name:      req.Name,
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, createdWebhookResponse{Webhook: w, Secret: w.Secret})
}

func (h *Handler) getWebhook(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	w, err := h.d.Webhooks().Get(c.Request.Context(), whID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) updateWebhook(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	var req updateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	svc := h.d.Webhooks()

	if req.Active != nil {
		if err := svc.SetActive(ctx, whID, *req.Active); err != nil {
			h.fail(c, err)
			return
		}
	}

	rateLimit := -1 // unchanged
	if req.RateLimit != nil {
		rateLimit = *req.RateLimit
	}

	w, err := svc.Update(ctx, whID, webhook.Input{
		Name:      req.Name,
		URL:       req.URL,
		Events:    req.Events,
		RateLimit: rateLimit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) deleteWebhook(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	if err := h.d.Webhooks().Delete(c.Request.Context(), whID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) testWebhook(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	result, err := h.d.TestPing(c.Request.Context(), whID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) rotateSecret(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	secret, err := h.d.Webhooks().RotateSecret(c.Request.Context(), whID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret})
}

func (h *Handler) listDeliveries(c *gin.Context) {
	whID, ok := h.webhookID(c)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(c, "offset"),
		Limit:  queryInt(c, "limit"),
	}
	if raw, ok := c.GetQuery("status"); ok {
		status := delivery.Status(raw)
		switch status {
		case delivery.StatusPending, delivery.StatusInflight,
			delivery.StatusSuccess, delivery.StatusFailed:
			opts.Status = &status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
	}

	ds, err := h.d.Store().ListByWebhook(c.Request.Context(), whID, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ds == nil {
		ds = []*delivery.Delivery{}
	}
	c.JSON(http.StatusOK, ds)
}

func (h *Handler) getDelivery(c *gin.Context) {
	delID, err := id.ParseDeliveryID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}

	d, err := h.d.Store().GetDelivery(c.Request.Context(), delID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (h *Handler) webhookID(c *gin.Context) (id.ID, bool) {
	whID, err := id.ParseWebhookID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook id"})
		return id.Nil, false
	}
	return whID, true
}

// fail maps domain errors onto HTTP status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	var vErr *webhook.ValidationError
	switch {
	case errors.Is(err, webhook.ErrNotFound), errors.Is(err, delivery.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message, "field": vErr.Field})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func queryInt(c *gin.Context, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

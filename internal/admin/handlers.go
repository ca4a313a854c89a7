// Package admin is the operator-facing REST API behind JWT auth: business
// profile, contacts, conversations, pending approvals and dashboard stats.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"chattie/internal/approval"
	"chattie/internal/auth"
	"chattie/internal/business"
	"chattie/internal/conversation"
	"chattie/internal/followup"
	"chattie/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ManualSender sends an operator-written WhatsApp message.
type ManualSender interface {
	Send(ctx context.Context, phone, threadID, message string) (string, error)
}

// SiteScraper refreshes the website snapshot on the business profile.
type SiteScraper interface {
	Scrape(ctx context.Context, siteURL string) (business.ScrapedSite, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Convs     *conversation.Service
	Biz       *business.Service
	Scraper   SiteScraper
	Approvals *approval.Service
	FollowUps *followup.Service
	Chat      ManualSender
	RDB       *redis.Client
	Logger    *slog.Logger
}

const (
	statsCacheKey = "admin:stats"
	statsCacheTTL = 30 * time.Second
)

func (h Handlers) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)

	protected := api.Group("", auth.RequireOperator(h.Auth))
	protected.GET("/config", h.GetConfig)
	protected.PUT("/config", h.UpdateConfig)
	protected.POST("/scrape", h.ScrapeWebsite)

	protected.GET("/contacts", h.ListContacts)
	protected.DELETE("/contacts/:id", h.ResetContact)

	protected.GET("/conversations/:id", h.GetConversation)
	protected.POST("/conversations/:id/pause", h.PauseConversation)
	protected.POST("/conversations/:id/resume", h.ResumeConversation)
	protected.POST("/conversations/:id/followup", h.MarkFollowUp)

	protected.GET("/pending", h.ListPending)
	protected.POST("/pending/:id/approve", h.ApprovePending)
	protected.POST("/pending/:id/reject", h.RejectPending)

	protected.POST("/send", h.SendManual)
	protected.GET("/stats", h.Stats)
}

// --- Auth ---

type loginRequest struct {
	Password string `json:"password"`
}

func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pair, err := h.Auth.Login(req.Password, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Business profile ---

func (h Handlers) GetConfig(c *gin.Context) {
	cfg, err := h.Biz.GetConfig(c.Request.Context())
	if err != nil {
		h.fail(c, "config lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h Handlers) UpdateConfig(c *gin.Context) {
	var u business.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cfg, err := h.Biz.UpdateConfig(c.Request.Context(), u)
	if err != nil {
		var ve *business.ValidationError
		if errors.As(err, &ve) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
			return
		}
		h.fail(c, "config update failed", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type scrapeRequest struct {
	URL string `json:"url"`
}

func (h Handlers) ScrapeWebsite(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	site, err := h.Scraper.Scrape(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, business.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "url must be absolute"})
			return
		}
		h.fail(c, "scrape failed", err)
		return
	}
	c.JSON(http.StatusOK, site)
}

// --- Contacts ---

func (h Handlers) ListContacts(c *gin.Context) {
	contacts, err := h.Convs.ListContacts(c.Request.Context())
	if err != nil {
		h.fail(c, "contact listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// ResetContact removes the contact and all attached conversations, messages
// and pending responses. Used to restart an intake from scratch.
func (h Handlers) ResetContact(c *gin.Context) {
	err := h.Convs.ResetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		h.fail(c, "contact reset failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// --- Conversations ---

func (h Handlers) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	conv, err := h.Convs.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.fail(c, "conversation lookup failed", err)
		return
	}
	contact, err := h.Convs.GetContact(ctx, conv.ContactID)
	if err != nil {
		h.fail(c, "contact lookup failed", err)
		return
	}
	messages, err := h.Convs.History(ctx, id)
	if err != nil {
		h.fail(c, "transcript lookup failed", err)
		return
	}
	pending, err := h.Approvals.ListByConversation(ctx, id)
	if err != nil {
		h.fail(c, "pending lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"contact":      contact,
		"messages":     messages,
		"pending":      pending,
	})
}

func (h Handlers) PauseConversation(c *gin.Context) {
	h.transition(c, h.Convs.Pause)
}

func (h Handlers) ResumeConversation(c *gin.Context) {
	h.transition(c, h.Convs.Resume)
}

func (h Handlers) transition(c *gin.Context, fn func(context.Context, string) (conversation.Conversation, error)) {
	conv, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation not found or not in the required state"})
			return
		}
		h.fail(c, "conversation transition failed", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h Handlers) MarkFollowUp(c *gin.Context) {
	conv, err := h.FollowUps.Mark(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, followup.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation not found or already closed"})
			return
		}
		h.fail(c, "follow-up mark failed", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// --- Pending approvals ---

func (h Handlers) ListPending(c *gin.Context) {
	open, err := h.Approvals.ListOpen(c.Request.Context())
	if err != nil {
		h.fail(c, "pending listing failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": open})
}

type approveRequest struct {
	// Message, when set, replaces the suggested response.
	Message string `json:"message,omitempty"`
}

func (h Handlers) ApprovePending(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	pending, err := h.Approvals.Approve(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "pending response not found or already resolved"})
		case errors.Is(err, approval.ErrNoAddress):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "contact has no address for delivery"})
		default:
			h.fail(c, "approval failed", err)
		}
		return
	}
	c.JSON(http.StatusOK, pending)
}

func (h Handlers) RejectPending(c *gin.Context) {
	pending, err := h.Approvals.Reject(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "pending response not found or already resolved"})
			return
		}
		h.fail(c, "rejection failed", err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

// --- Manual send ---

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendManual delivers an operator-written WhatsApp message and records it on
// the contact's conversation.
func (h Handlers) SendManual(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Phone == "" || req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone and message required"})
		return
	}

	ctx := c.Request.Context()
	contact, err := h.Convs.FindOrCreateContactByPhone(ctx, req.Phone, "")
	if err != nil {
		h.fail(c, "contact resolution failed", err)
		return
	}
	conv, _, err := h.Convs.GetOrCreateConversation(ctx, contact.ID, conversation.ChannelChat)
	if err != nil {
		h.fail(c, "conversation resolution failed", err)
		return
	}

	providerID, err := h.Chat.Send(ctx, req.Phone, "", req.Message)
	if err != nil {
		h.fail(c, "send failed", err)
		return
	}
	msg, err := h.Convs.SaveMessage(ctx, conv.ID, contact.ID, conversation.DirectionOutbound, req.Message, providerID)
	if err != nil {
		h.fail(c, "message persistence failed", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// --- Stats ---

type statsResponse struct {
	conversation.Stats
	PendingApprovals int `json:"pending_approvals"`
}

// Stats serves dashboard counters, cached briefly in Redis.
func (h Handlers) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, ok, err := utils.CacheGet(ctx, h.RDB, statsCacheKey); err == nil && ok {
		c.Data(http.StatusOK, "application/json", []byte(cached))
		return
	}

	stats, err := h.Convs.Stats(ctx)
	if err != nil {
		h.fail(c, "stats query failed", err)
		return
	}
	open, err := h.Approvals.CountOpen(ctx)
	if err != nil {
		h.fail(c, "pending count failed", err)
		return
	}

	out := statsResponse{Stats: stats, PendingApprovals: open}
	if raw, err := json.Marshal(out); err == nil {
		if err := utils.CacheSet(ctx, h.RDB, statsCacheKey, string(raw), statsCacheTTL); err != nil {
			h.Logger.Warn("stats cache write failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) fail(c *gin.Context, msg string, err error) {
	h.Logger.Error(msg, "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msg})
}

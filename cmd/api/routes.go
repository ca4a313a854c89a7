package main

import (
	"log/slog"
	"net/http"
	"time"

	"chattie/internal/admin"
	"chattie/internal/approval"
	"chattie/internal/auth"
	"chattie/internal/business"
	"chattie/internal/channel"
	"chattie/internal/config"
	"chattie/internal/conversation"
	"chattie/internal/followup"
	"chattie/internal/inboxpoll"
	"chattie/internal/orchestrator"
	"chattie/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg       config.Config
	auth      *auth.Manager
	convs     *conversation.Service
	biz       *business.Service
	scraper   *business.Scraper
	approvals *approval.Service
	followUps *followup.Service
	chat      channel.ChatSender
	rdb       *redis.Client
	orch      *orchestrator.Service
	poller    *inboxpoll.Poller
	logger    *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"mode":      deps.cfg.Assist.ResponseMode,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Provider webhooks (public; Twilio requests are signature-checked).
	wh := webhook.NewHandler(deps.orch, deps.poller, deps.cfg.Twilio.AuthToken, deps.logger)
	wh.Register(r)

	// Operator API behind JWT auth.
	admin.Handlers{
		Auth:      deps.auth,
		Convs:     deps.convs,
		Biz:       deps.biz,
		Scraper:   deps.scraper,
		Approvals: deps.approvals,
		FollowUps: deps.followUps,
		Chat:      deps.chat,
		RDB:       deps.rdb,
		Logger:    deps.logger,
	}.Register(r)
}

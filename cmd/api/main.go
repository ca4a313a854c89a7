package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chattie/db"
	"chattie/internal/approval"
	"chattie/internal/assist"
	"chattie/internal/auth"
	"chattie/internal/business"
	"chattie/internal/channel"
	"chattie/internal/config"
	"chattie/internal/conversation"
	"chattie/internal/followup"
	"chattie/internal/inboxpoll"
	"chattie/internal/orchestrator"
	"chattie/internal/scheduler"
	"chattie/pkg/logger"
	"chattie/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := db.MigrateUp(log, cfg.PostgresURL()); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pg, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer pg.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	ai, err := assist.NewClient(rootCtx, cfg.Gemini.APIKey, cfg.Gemini.Model, log)
	if err != nil {
		log.Error("gemini init failed", "err", err)
		os.Exit(1)
	}
	defer ai.Close()

	chat := newChatSender(cfg, log)

	mailbox, err := channel.NewGmail(rootCtx, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RefreshToken, log)
	if err != nil {
		log.Error("gmail init failed", "err", err)
		os.Exit(1)
	}

	convs := conversation.NewService(pg)
	biz := business.NewService(pg, business.Defaults{
		OwnerEmail:   cfg.Owner.Email,
		ResponseMode: business.ResponseMode(cfg.Assist.ResponseMode),
	})
	scraper := business.NewScraper(biz, ai, log)
	approvals := approval.NewService(pg, convs, chat, mailbox, cfg.Owner.Email, log)
	followUps := followup.NewService(pg, mailbox, log)
	orch := orchestrator.NewService(rdb, convs, biz, approvals, ai, chat, mailbox, log)
	poller := inboxpoll.NewPoller(mailbox, ai, convs, biz, cfg.Owner.Email, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		auth:      authManager,
		convs:     convs,
		biz:       biz,
		scraper:   scraper,
		approvals: approvals,
		followUps: followUps,
		chat:      chat,
		rdb:       rdb,
		orch:      orch,
		poller:    poller,
		logger:    log,
	})

	sched := scheduler.New(log)
	mustSchedule(log, sched, cfg.Assist.EmailPollInterval, "inbox-poll", poller.CheckNewEmails)
	mustSchedule(log, sched, cfg.Assist.EmailPollInterval, "owner-verdicts", approvals.ProcessOwnerReplies)
	mustSchedule(log, sched, cfg.Assist.EmailPollInterval, "follow-ups", followUps.Run)
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler shutdown failed", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// newChatSender picks the WhatsApp provider: Unipile when configured,
// Twilio otherwise.
func newChatSender(cfg config.Config, log *slog.Logger) channel.ChatSender {
	if cfg.Unipile.APIKey != "" {
		log.Info("whatsapp provider", "provider", "unipile")
		return channel.NewUnipileSender(cfg.Unipile.BaseURL, cfg.Unipile.APIKey, cfg.Unipile.AccountID, log)
	}
	log.Info("whatsapp provider", "provider", "twilio")
	return channel.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, log)
}

func mustSchedule(log *slog.Logger, s *scheduler.Scheduler, interval time.Duration, name string, job scheduler.Job) {
	if err := s.Every(interval, name, job); err != nil {
		log.Error("scheduling failed", "job", name, "err", err)
		os.Exit(1)
	}
}

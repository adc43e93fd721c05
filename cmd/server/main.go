package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/escrow-hub/escrow-hub/internal/api/http"
	"github.com/escrow-hub/escrow-hub/internal/application/account"
	"github.com/escrow-hub/escrow-hub/internal/application/activation"
	"github.com/escrow-hub/escrow-hub/internal/application/audit"
	"github.com/escrow-hub/escrow-hub/internal/application/auth"
	"github.com/escrow-hub/escrow-hub/internal/application/deal"
	"github.com/escrow-hub/escrow-hub/internal/application/invitation"
	"github.com/escrow-hub/escrow-hub/internal/application/negotiation"
	"github.com/escrow-hub/escrow-hub/internal/application/notification"
	"github.com/escrow-hub/escrow-hub/internal/config"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/postgres"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	dealRepo := postgres.NewDealRepository(pool)
	partyRepo := postgres.NewPartyRepository(pool)
	contractRepo := postgres.NewContractRepository(pool)
	milestoneRepo := postgres.NewMilestoneRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	ruleRepo := postgres.NewRuleRepository(pool)
	accountRepo := postgres.NewAccountRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)

	// infrastructure
	sseHub := sse.NewHub()

	// services
	auditKey := loadHexKey(os.Getenv("AUDIT_SIGNING_KEY"))
	auditSvc := audit.NewService(auditRepo, logger, auditKey)
	notificationSvc := notification.NewService(notificationRepo, ruleRepo, dealRepo, sseHub, cfg.NotificationTTL, logger)
	activationSvc := activation.NewService(dealRepo, partyRepo, contractRepo, milestoneRepo, auditSvc, notificationSvc, logger)
	invitationSvc := invitation.NewService(dealRepo, partyRepo, activationSvc, auditSvc, notificationSvc, logger)
	negotiationSvc := negotiation.NewService(milestoneRepo, partyRepo, dealRepo, contractRepo, activationSvc, auditSvc, notificationSvc, logger)
	dealSvc := deal.NewService(dealRepo, partyRepo, contractRepo, milestoneRepo, activationSvc, auditSvc, notificationSvc, logger)
	accountSvc := account.NewService(accountRepo, logger)
	authSvc := auth.NewService(accountRepo, sessionRepo, cfg.SessionTTL, logger)

	// API server
	apiServer := httpapi.NewServer(dealSvc, invitationSvc, negotiationSvc, notificationSvc, auditSvc, authSvc, accountSvc, sseHub, cfg.SessionCookieName, cfg.SessionCookieSecure)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			_, _ = notificationSvc.ProcessPending(context.Background(), 50)
			_, _ = notificationSvc.ProcessRetryable(context.Background(), 50)
			_, _ = notificationSvc.Expire(context.Background())
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := authSvc.PurgeExpired(context.Background()); err == nil && n > 0 {
				logger.Debug().Int("sessions", n).Msg("expired sessions purged")
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	sseHub.Stop()
}

func loadHexKey(hexStr string) []byte {
	if hexStr == "" {
		return nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return b
}

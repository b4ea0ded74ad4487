package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/service"
	"github.com/BrandonDHaskell/Bulletin/internal/config"
	"github.com/BrandonDHaskell/Bulletin/internal/grpcapi"
	"github.com/BrandonDHaskell/Bulletin/internal/httpapi"
	"github.com/BrandonDHaskell/Bulletin/internal/notify"
	"github.com/BrandonDHaskell/Bulletin/internal/obs"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func nowUTC() time.Time { return time.Now().UTC() }

func main() {
	logger := log.New(os.Stdout, "bulletin-server ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("stores: %v", err)
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Printf("close stores: %v", err)
		}
	}()
	logger.Printf("store driver %s", cfg.StoreDriver)

	notifier, hasWebhook, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Fatalf("notifier: %v", err)
	}
	issuePolicy, err := notify.ParsePolicy(cfg.IssuePolicy)
	if err != nil {
		logger.Fatalf("issue policy: %v", err)
	}
	publishPolicy, err := notify.ParsePolicy(cfg.PublishPolicy)
	if err != nil {
		logger.Fatalf("publish policy: %v", err)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = devSecret()
		logger.Printf("WARNING: no BULLETIN_SESSION_SECRET; using a random secret, sessions end on restart")
	}

	metrics := obs.New()
	metrics.SetBuildInfo(version)

	// Services
	accessSvc := service.NewAccessService(service.AccessDeps{
		Generator: service.NewCodeGenerator(service.GeneratorConfig{
			Length: cfg.CodeLength,
			TTL:    cfg.CodeTTL,
		}),
		Codes:       st.codes,
		Events:      st.events,
		Notifier:    notifier,
		IssuePolicy: issuePolicy,
		Metrics:     metrics,
		Logger:      logger,
	})
	announcementSvc := service.NewAnnouncementService(service.AnnouncementDeps{
		Store:         st.announcements,
		Notifier:      notifier,
		PublishPolicy: publishPolicy,
		Metrics:       metrics,
		Logger:        logger,
	})
	gate, err := service.NewGate(service.GateConfig{
		Secret:      secret,
		TTL:         cfg.TokenTTL,
		Revocations: st.revocations,
	})
	if err != nil {
		logger.Fatalf("gate: %v", err)
	}

	pruner := service.NewCodePruner(st.codes, st.revocations, service.PrunerConfig{
		Interval:  cfg.PruneInterval,
		Retention: cfg.Retention,
		Metrics:   metrics,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:              logger,
		Addr:                cfg.HTTPAddr,
		AccessService:       accessSvc,
		AnnouncementService: announcementSvc,
		Gate:                gate,
		Metrics:             metrics,
		Ready:               st.ready,
		HasWebhook:          hasWebhook,
		AllowedOrigins:      cfg.AllowedOrigins,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	// gRPC health
	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(grpcapi.Config{
			Addr:   cfg.GRPCAddr,
			Ready:  st.ready,
			Logger: logger,
		})
		go func() {
			logger.Printf("grpc health listening on %s", cfg.GRPCAddr)
			if err := health.Start(ctx); err != nil {
				logger.Printf("grpc error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if health != nil {
		health.Stop(shutdownCtx)
	}
	_ = srv.Shutdown(shutdownCtx)
}

func buildNotifier(cfg config.Config, logger *log.Logger) (notify.Notifier, bool, error) {
	if cfg.WebhookURL != "" {
		wh, err := notify.NewWebhook(notify.WebhookConfig{URL: cfg.WebhookURL})
		if err != nil {
			return nil, false, err
		}
		return wh, true, nil
	}
	logger.Printf("no webhook configured; notifications go to the server log")
	return notify.NewLogNotifier(logger), false, nil
}

func devSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(b))
}

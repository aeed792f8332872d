package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/config"
	"crmdesk.io/internal/dashboard"
	"crmdesk.io/internal/httpapi"
	"crmdesk.io/internal/mail"
	"crmdesk.io/internal/migrate"
	"crmdesk.io/internal/obs"
	"crmdesk.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.Open(ctx, cfg.DatabaseDSN, pg.DefaultPool)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := migrate.NewManager(db).Up(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		obs.Info("migrations applied", nil)
	}

	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		log.Fatalf("mail: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, nil)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	svc, err := auth.NewService(auth.NewPGStore(db), sender, tokens,
		auth.WithHasher(auth.NewHasher(cfg.BcryptCost)),
		auth.WithLockout(cfg.LockoutThreshold, cfg.LockoutDuration),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithResetTTL(cfg.ResetTTL),
		auth.WithSetupTTL(cfg.SetupTTL),
		auth.WithAppURL(cfg.AppURL),
		auth.WithOperatorEmail(cfg.OperatorEmail),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(svc, dashboard.NewPGStore(db), probe, version, httpapi.Options{
		CORSOrigins:    cfg.CORSOrigins,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcServer = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcServer)
		go func() {
			obs.Info("grpc health listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				obs.Error("grpc serve", map[string]any{"error": err.Error()})
			}
		}()
	}

	go func() {
		obs.Info("starting crm-api", map[string]any{"version": version, "addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	obs.Info("stopped", nil)
}

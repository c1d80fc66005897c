// Server runs the account platform gRPC server: login, refresh, logout,
// session management, and the password/email flows behind them.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	accountrepo "account-platform/backend/internal/account/repository"
	accountservice "account-platform/backend/internal/account/service"
	"account-platform/backend/internal/audit"
	auditrepo "account-platform/backend/internal/audit/repository"
	authservice "account-platform/backend/internal/auth/service"
	"account-platform/backend/internal/config"
	"account-platform/backend/internal/db"
	"account-platform/backend/internal/events"
	policyengine "account-platform/backend/internal/policy/engine"
	"account-platform/backend/internal/security"
	"account-platform/backend/internal/server"
	"account-platform/backend/internal/server/interceptors"
	sessionrepo "account-platform/backend/internal/session/repository"
	sessionservice "account-platform/backend/internal/session/service"
	"account-platform/backend/internal/telemetry/otel"
	tokenrepo "account-platform/backend/internal/token/repository"
	tokenservice "account-platform/backend/internal/token/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "account-platform", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	// Events go to Kafka when brokers are configured, otherwise to the OTel
	// log pipeline (no-op without an OTLP endpoint).
	var publisher events.Publisher
	kafkaPub, err := events.NewKafkaPublisher(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaPub != nil {
		publisher = kafkaPub
		defer kafkaPub.Close()
	} else {
		publisher = otel.NewEventPublisher(providers.LoggerProvider)
	}

	accounts := accountrepo.NewPostgresRepository(conn)
	tokens := tokenrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	audits := auditrepo.NewPostgresRepository(conn)

	signer := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	hasher := security.NewHasher(cfg.BcryptCost)
	lockout := accountservice.NewLockout(accounts, cfg.LockoutThreshold, cfg.LockoutDuration())
	engine := tokenservice.NewEngine(tokens, sessions, cfg.RefreshTTL())
	registry := sessionservice.NewRegistry(sessions, engine)
	policy, err := policyengine.NewOPAEvaluator(cfg.LoginPolicyRego)
	if err != nil {
		log.Fatalf("login policy: %v", err)
	}
	auditor := audit.NewLogger(audits, interceptors.ClientIP)

	auth := authservice.NewAuthService(
		accounts, lockout, engine, registry,
		hasher, signer, policy, publisher, auditor,
		cfg.RefreshTTL(), cfg.VerificationTTL(), cfg.MaxActiveSessions,
	)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	s := server.New(server.Options{
		Tokens: signer,
		Auth:   auth,
		Events: publisher,
		DB:     conn,
		Policy: policy,
	})

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down gRPC server...")
	s.GracefulStop()
	// In-flight async event publishes get a grace period before providers close.
	time.Sleep(events.ShutdownDrainDuration)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("gRPC server stopped")
}

// Worker consumes account events from Kafka and pushes them to Loki, and runs
// the retention sweep: expired sessions are marked expired and fully dead
// token lineages past the retention age are deleted.
// Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL for the
// event pump; DATABASE_URL for the sweep. GRPC_ADDR is required by config but
// unused (e.g. set to :0).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/segmentio/kafka-go"

	"account-platform/backend/internal/config"
	"account-platform/backend/internal/db"
	sessionrepo "account-platform/backend/internal/session/repository"
	"account-platform/backend/internal/telemetry/loki"
	tokenrepo "account-platform/backend/internal/token/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	ran := false
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("worker: db: %v", err)
		}
		defer conn.Close()
		go runRetention(ctx, conn, cfg)
		ran = true
	}

	brokers := cfg.EventsKafkaBrokersList()
	if len(brokers) != 0 && cfg.LokiURL != "" {
		runEventPump(ctx, cfg, brokers)
		return
	}
	if !ran {
		log.Fatal("worker: nothing to do; set DATABASE_URL for the retention sweep or KAFKA_BROKERS and LOKI_URL for the event pump")
	}
	<-ctx.Done()
	log.Println("worker: stopped")
}

// runEventPump reads account events from Kafka and pushes each as a Loki log line.
func runEventPump(ctx context.Context, cfg *config.Config, brokers []string) {
	topic := cfg.EventsKafkaTopic
	if topic == "" {
		topic = "account-events"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "account-events-worker"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Printf("worker: consuming from %s (group %s), pushing to %s", topic, groupID, cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := loki.PushEventJSON(pushCtx, cfg.LokiURL, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
		pushCancel()
	}
}

// runRetention periodically expires sessions whose lineage has no live token
// and deletes lineages that have been fully revoked or expired for longer
// than the retention age.
func runRetention(ctx context.Context, conn *sqlx.DB, cfg *config.Config) {
	sessions := sessionrepo.NewPostgresRepository(conn)
	tokens := tokenrepo.NewPostgresRepository(conn)
	interval := cfg.RetentionInterval()
	maxAge := cfg.RetentionMaxAge()

	log.Printf("worker: retention sweep every %s, max age %s", interval, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)
		now := time.Now().UTC()

		expired, err := sessions.TerminateExpired(sweepCtx, now)
		if err != nil {
			log.Printf("worker: terminate expired sessions: %v", err)
		} else if expired > 0 {
			log.Printf("worker: terminated %d expired sessions", expired)
		}

		deleted, err := tokens.DeleteExpiredRevoked(sweepCtx, now.Add(-maxAge))
		if err != nil {
			log.Printf("worker: delete dead lineages: %v", err)
		} else if deleted > 0 {
			log.Printf("worker: deleted %d tokens from dead lineages", deleted)
		}
		sweepCancel()
	}
}

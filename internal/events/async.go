package events

import (
	"context"
	"log"
	"time"
)

// publishTimeout is the max time allowed for a single async publish. Used by
// PublishAsync and by ShutdownDrainDuration.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before
// shutting down providers, so in-flight async publishes have time to
// complete. Must be >= publishTimeout.
const ShutdownDrainDuration = publishTimeout

// PublishAsync runs Publish in a goroutine with a short timeout so the caller
// is not blocked. Use from request paths for fire-and-forget events; errors
// are logged.
//
// publisher and event may be nil; PublishAsync returns immediately without
// starting a goroutine. The goroutine uses context.Background() with
// publishTimeout so request cancellation does not abort an in-flight publish.
func PublishAsync(publisher Publisher, event *Event) {
	if publisher == nil || event == nil {
		return
	}
	go func() {
		publishCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := publisher.Publish(publishCtx, event); err != nil {
			log.Printf("events: async publish failed: %v", err)
		}
	}()
}

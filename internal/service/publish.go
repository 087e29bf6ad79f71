package service

import (
	"context"

	"member_comms/internal/metrics"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

// publish pushes one event and swallows the failure: a subscriber that misses
// it catches up through the sync endpoints.
func publish(ctx context.Context, pub transport.Publisher, log logger.Logger, topic, eventType string, payload interface{}) {
	ev, err := transport.NewEvent(topic, eventType, payload)
	if err != nil {
		log.Error("Failed to encode event", "error", err, "type", eventType)
		return
	}
	if err := pub.Publish(ctx, topic, ev); err != nil {
		metrics.PublishFailures.WithLabelValues(eventType).Inc()
		log.Warn("Failed to publish event", "error", err, "topic", topic, "type", eventType)
	}
}

// Events: cross-instance observability of background refresh outcomes.
// Non-goals (spec.md) exclude cross-instance cache *coherence* — this file
// never subscribes to or applies another instance's cache writes — but
// broadcasting that a refresh happened, and whether it succeeded, is pure
// observability and stays in scope.
//
// Grounded on cache-manager/subscriptions.go's RefreshEvent/CacheRefreshTopic
// shape, narrowed to publish-only.
package proxy

import (
	"context"
	"time"

	"encore.dev/pubsub"

	"github.com/riftcache/proxy/cache"
)

// RefreshCompletedEvent is published once per background refresh attempt.
type RefreshCompletedEvent struct {
	SourceID    string    `json:"source_id"`
	Fingerprint string    `json:"fingerprint"`
	OK          bool      `json:"ok"`
	At          time.Time `json:"at"`
}

// RefreshCompletedTopic broadcasts refresh outcomes for other instances'
// monitoring to observe.
var RefreshCompletedTopic = pubsub.NewTopic[*RefreshCompletedEvent](
	"cache-refresh-completed",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// topicPublisher implements cache.Publisher over RefreshCompletedTopic.
type topicPublisher struct{}

func (topicPublisher) PublishRefresh(evt cache.RefreshEvent) {
	_, _ = RefreshCompletedTopic.Publish(context.Background(), &RefreshCompletedEvent{
		SourceID:    evt.SourceID,
		Fingerprint: evt.Fingerprint,
		OK:          evt.OK,
		At:          time.Now(),
	})
}

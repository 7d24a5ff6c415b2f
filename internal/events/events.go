// Package events connects the registry to Kafka. Corpus-changed events
// trigger a reload; every fresh index build is announced on the index-built
// topic.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/kafka"
)

// CorpusChanged announces that the detections or annotations of a dataset
// were rewritten.
type CorpusChanged struct {
	EventID    string    `json:"event_id"`
	Dataset    string    `json:"dataset"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewCorpusChanged stamps a fresh event for dataset.
func NewCorpusChanged(dataset, reason string) CorpusChanged {
	return CorpusChanged{
		EventID:    uuid.NewString(),
		Dataset:    dataset,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// IndexBuilt describes one resident index.
type IndexBuilt struct {
	EventID string                `json:"event_id"`
	Dataset string                `json:"dataset"`
	Version string                `json:"version"`
	Key     matching.ThresholdKey `json:"key"`
	Pairs   int                   `json:"pairs"`
	ByType  map[string]int        `json:"by_type"`
	Images  int                   `json:"images"`
	BuiltAt time.Time             `json:"built_at"`
}

func newIndexBuilt(snap *engine.Snapshot, now time.Time) IndexBuilt {
	counts := snap.Table.CountByType()
	byType := make(map[string]int, len(counts))
	for t, n := range counts {
		if n > 0 {
			byType[matching.ErrorType(t).String()] = n
		}
	}
	return IndexBuilt{
		EventID: uuid.NewString(),
		Dataset: snap.Corpus.Dataset,
		Version: snap.Version,
		Key:     snap.Key,
		Pairs:   snap.Table.Len(),
		ByType:  byType,
		Images:  len(snap.Corpus.Images),
		BuiltAt: now.UTC(),
	}
}

// PublishCorpusChanged announces a corpus change so every replica reloads.
func PublishCorpusChanged(ctx context.Context, p kafka.Publisher, dataset, reason string) (CorpusChanged, error) {
	event := NewCorpusChanged(dataset, reason)
	if err := p.Publish(ctx, kafka.Event{Key: dataset, Value: event}); err != nil {
		return CorpusChanged{}, fmt.Errorf("publishing corpus change for %s: %w", dataset, err)
	}
	return event, nil
}

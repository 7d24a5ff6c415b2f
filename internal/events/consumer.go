package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/metrics"
)

// Reloader is the part of the registry a corpus change drives.
type Reloader interface {
	Reload(ctx context.Context) error
	Warm(ctx context.Context) error
}

// HandlerOptions tunes HandleCorpusChanged. Dataset limits reloads to events
// naming it; Warm rebuilds every key right after the reload.
type HandlerOptions struct {
	Dataset string
	Warm    bool
	Metrics *metrics.Metrics
}

// HandleCorpusChanged returns a MessageHandler that reloads r for every
// matching corpus-changed event. Undecodable events are logged and
// committed; reload failures leave the message uncommitted.
func HandleCorpusChanged(r Reloader, opts HandlerOptions) kafka.MessageHandler {
	log := logger.WithComponent("corpus-events")
	count := func(result string) {
		if opts.Metrics != nil {
			opts.Metrics.CorpusEventsTotal.WithLabelValues(result).Inc()
		}
	}
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[CorpusChanged](msg.Value)
		if err != nil {
			log.Error("failed to decode corpus event",
				"error", err,
				"key", string(msg.Key),
				"offset", msg.Offset,
			)
			count("malformed")
			return nil
		}
		if opts.Dataset != "" && event.Dataset != opts.Dataset {
			log.Debug("ignoring corpus event for another dataset",
				"event_id", event.EventID,
				"dataset", event.Dataset,
			)
			count("ignored")
			return nil
		}

		if err := r.Reload(ctx); err != nil {
			count("error")
			return fmt.Errorf("reloading after event %s: %w", event.EventID, err)
		}
		if opts.Warm {
			if err := r.Warm(ctx); err != nil {
				// The corpus is already swapped; unbuilt keys build on demand.
				log.Warn("warm-up after reload failed", "event_id", event.EventID, "error", err)
			}
		}
		count("applied")
		log.Info("corpus reloaded",
			slog.String("event_id", event.EventID),
			slog.String("dataset", event.Dataset),
			slog.String("reason", event.Reason),
		)
		return nil
	}
}

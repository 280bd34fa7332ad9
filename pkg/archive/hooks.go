package archive

import (
	"context"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/rs/zerolog"
)

// writeTimeout bounds a single page write.
const writeTimeout = 10 * time.Second

// Hooks archives the output of every completed task.
type Hooks struct {
	job.NopHooks
	sinks  []Sink
	logger zerolog.Logger
}

// NewHooks creates scheduler hooks writing to sinks.
func NewHooks(sinks ...Sink) *Hooks {
	return &Hooks{
		sinks:  sinks,
		logger: logging.NewLogger(logging.ComponentArchive),
	}
}

// OnComplete implements job.Hooks. Write errors are logged only.
func (h *Hooks) OnComplete(t *job.Task) error {
	key := PageKey{Name: t.Name, Iteration: t.Iteration}
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sink.Put(ctx, key, t.Output)
		cancel()
		if err != nil {
			h.logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("key", key.String()).
				Msg("Archive write failed")
			continue
		}
		h.logger.Debug().
			Str("sink", sink.Name()).
			Str("key", key.String()).
			Int("bytes", len(t.Output)).
			Msg("Page archived")
	}
	return nil
}

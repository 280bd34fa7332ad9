package pagination

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// TotalField is the output field holding the total item count.
const TotalField = "total"

var (
	// ErrMissingTotal indicates an iteration-zero output without a total.
	ErrMissingTotal = errors.New("missing total item count")

	// ErrInvalidTotal indicates a total that is not a non-negative integer.
	ErrInvalidTotal = errors.New("invalid total item count")

	// ErrInvalidPageSize indicates a task with a page size <= 0.
	ErrInvalidPageSize = errors.New("page size must be > 0")
)

var pagesEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ckp_pagination_tasks_enqueued_total",
	Help: "Total page tasks enqueued by pagination expansion by category",
}, []string{"category"})

// RequiredIterations returns the number of pages needed to read total items,
// rounding up. It is at least 1 since iteration zero always runs.
func RequiredIterations(total, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, pageSize)
	}
	if total < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	n := total / pageSize
	if total%pageSize != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// ParseTotal extracts the total item count from a page output.
func ParseTotal(output []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(output))
	dec.UseNumber()

	var page map[string]any
	if err := dec.Decode(&page); err != nil {
		return 0, fmt.Errorf("%w: decode output: %v", ErrMissingTotal, err)
	}

	raw, ok := page[TotalField]
	if !ok || raw == nil {
		return 0, ErrMissingTotal
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTotal, raw)
	}
	total, err := num.Int64()
	if err != nil || total < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTotal, num)
	}
	return int(total), nil
}

// Expander is a completion hook that enqueues the remaining pages of a
// category when its iteration-zero task completes.
type Expander struct {
	job.NopHooks

	queue  job.Enqueuer
	logger zerolog.Logger
}

// NewExpander creates an expander adding tasks to queue, normally the
// scheduler the expander is installed on.
func NewExpander(queue job.Enqueuer) *Expander {
	return &Expander{
		queue:  queue,
		logger: logging.NewLogger(logging.ComponentExpander),
	}
}

// WithLogger returns e using logger.
func (e *Expander) WithLogger(logger zerolog.Logger) *Expander {
	e.logger = logger
	return e
}

// OnComplete implements job.Hooks.
func (e *Expander) OnComplete(t *job.Task) error {
	if t.Iteration != 0 {
		return nil
	}

	total, err := ParseTotal(t.Output)
	if err != nil {
		return fmt.Errorf("expand %s: %w", t.Name, err)
	}
	count, err := RequiredIterations(total, t.PageSize)
	if err != nil {
		return fmt.Errorf("expand %s: %w", t.Name, err)
	}
	t.IterationCount = count

	for i := 1; i < count; i++ {
		e.queue.Enqueue(&job.Task{
			Category:       t.Category,
			Name:           t.Name,
			Iteration:      i,
			IterationCount: count,
			PageSize:       t.PageSize,
			Request:        t.Request.WithOffset(t.PageSize * i),
		})
	}

	if count > 1 {
		pagesEnqueuedTotal.WithLabelValues(t.Category).Add(float64(count - 1))
	}

	e.logger.Debug().
		Str("task", t.Name).
		Int("total", total).
		Int("page_size", t.PageSize).
		Int("iterations", count).
		Msg("Pagination expanded")

	return nil
}

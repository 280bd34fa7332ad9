package dataset

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Output fields read by the aggregator.
const (
	ObjectsField           = "objects"
	MembersField           = "members"
	ObjectsDictionaryField = "objects-dictionary"
)

var recordsFoldedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ckp_records_folded_total",
	Help: "Total records folded into the dataset by merge result",
}, []string{"result"})

// Categories names the task categories the aggregator treats specially.
// Every other category is read as a plain "objects" page.
type Categories struct {
	// Layers is the layer discovery category; its pages list layers under a
	// field of the same name.
	Layers string

	// RuleBase is the rule base category; each page belongs to one layer.
	RuleBase string

	// Groups are categories whose objects embed member objects that are
	// folded as records too.
	Groups []string
}

// DefaultCategories returns the management API categories.
func DefaultCategories() Categories {
	return Categories{
		Layers:   "access-layers",
		RuleBase: "access-rulebase",
		Groups:   []string{"groups"},
	}
}

func (c Categories) isGroup(category string) bool {
	for _, g := range c.Groups {
		if g == category {
			return true
		}
	}
	return false
}

// Skipped is a task that contributed nothing to the dataset.
type Skipped struct {
	Task   *job.Task
	Reason error
}

// Aggregator folds the done tasks of one or more runs into a Dataset.
type Aggregator struct {
	categories Categories
	dataset    *Dataset
	skipped    []Skipped
	logger     zerolog.Logger
}

// NewAggregator creates an aggregator over an empty dataset.
func NewAggregator(categories Categories) *Aggregator {
	return &Aggregator{
		categories: categories,
		dataset:    New(),
		logger:     logging.NewLogger(logging.ComponentAggregator),
	}
}

// WithLogger returns a using logger.
func (a *Aggregator) WithLogger(logger zerolog.Logger) *Aggregator {
	a.logger = logger
	return a
}

// Dataset returns the dataset built so far.
func (a *Aggregator) Dataset() *Dataset { return a.dataset }

// Skipped returns every task skipped by Fold so far.
func (a *Aggregator) Skipped() []Skipped { return a.skipped }

// Fold merges tasks into the dataset in the given order, normally the
// sequence order of a run outcome. Tasks that did not complete, or whose
// output cannot be decoded, are skipped, as are rule base pages without a
// layer uid. A rule base page for a layer that was never folded aborts the
// fold with an *UnknownLayerError.
func (a *Aggregator) Fold(tasks []*job.Task) error {
	for _, t := range tasks {
		if t.State != job.Completed {
			reason := t.Err
			if reason == nil {
				reason = fmt.Errorf("task %s", t.State)
			}
			a.skip(t, reason)
			continue
		}

		page, err := decodeObject(t.Output)
		if err != nil {
			a.skip(t, fmt.Errorf("decode output: %w", err))
			continue
		}

		switch {
		case t.Category == a.categories.Layers:
			a.foldLayers(t, page)
		case t.Category == a.categories.RuleBase:
			if err := a.foldRuleBase(t, page); err != nil {
				return err
			}
		case a.categories.isGroup(t.Category):
			a.foldGroups(t, page)
		default:
			a.foldObjects(t, asList(page, ObjectsField))
		}
	}
	return nil
}

func (a *Aggregator) foldLayers(t *job.Task, page map[string]any) {
	for _, v := range asList(page, a.categories.Layers) {
		r, ok := asRecord(v)
		if !ok {
			continue
		}
		if _, created, err := a.dataset.AddLayer(r); err != nil {
			a.logger.Warn().Err(err).Str("task", t.Name).Msg("Ignoring layer")
		} else if created {
			a.logger.Debug().Str("layer", r.UID()).Str("name", fmt.Sprint(r["name"])).Msg("Layer discovered")
		}
	}
}

func (a *Aggregator) foldRuleBase(t *job.Task, page map[string]any) error {
	uid := Record(page).UID()
	if uid == "" {
		a.skip(t, fmt.Errorf("rule base page: %w", ErrMissingUID))
		return nil
	}
	if err := a.dataset.AppendRules(uid, asList(page, RulebaseField)); err != nil {
		var ule *UnknownLayerError
		if errors.As(err, &ule) {
			ule.Task = t.Name
		}
		return err
	}
	a.foldObjects(t, asList(page, ObjectsDictionaryField))
	return nil
}

func (a *Aggregator) foldGroups(t *job.Task, page map[string]any) {
	for _, v := range asList(page, ObjectsField) {
		group, ok := asRecord(v)
		if !ok {
			continue
		}
		a.add(t, group)
		// some member types (cluster members, plain gateways) are only
		// available embedded in their groups
		a.foldObjects(t, asList(group, MembersField))
	}
}

func (a *Aggregator) foldObjects(t *job.Task, list []any) {
	for _, v := range list {
		if r, ok := asRecord(v); ok {
			a.add(t, r)
		}
	}
}

func (a *Aggregator) add(t *job.Task, r Record) {
	res, err := a.dataset.AddRecord(r)
	if err != nil {
		a.logger.Warn().Err(err).Str("task", t.Name).Msg("Ignoring record")
		return
	}
	recordsFoldedTotal.WithLabelValues(string(res)).Inc()
}

func (a *Aggregator) skip(t *job.Task, reason error) {
	a.skipped = append(a.skipped, Skipped{Task: t, Reason: reason})
	a.logger.Warn().
		Err(reason).
		Uint64("seq", t.Seq).
		Str("task", t.Name).
		Int("iteration", t.Iteration).
		Msg("Skipping task output")
}

// OutputValidator is a completion hook failing tasks whose output is not a
// JSON object.
type OutputValidator struct {
	job.NopHooks
}

// OnComplete implements job.Hooks.
func (OutputValidator) OnComplete(t *job.Task) error {
	if _, err := decodeObject(t.Output); err != nil {
		return fmt.Errorf("malformed output: %w", err)
	}
	return nil
}

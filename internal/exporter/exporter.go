// Package exporter runs a complete policy export: login, layer discovery,
// the rule base and object fetches, aggregation and logout.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/ckp-export/internal/config"
	"github.com/Sternrassler/ckp-export/pkg/archive"
	"github.com/Sternrassler/ckp-export/pkg/dataset"
	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/Sternrassler/ckp-export/pkg/mgmt"
	"github.com/Sternrassler/ckp-export/pkg/pagination"
	"github.com/Sternrassler/ckp-export/pkg/session"
	"github.com/rs/zerolog"
)

// Options tune an export.
type Options struct {
	// Debug logs every task start and finish.
	Debug bool

	// Progress receives the compact "+"/"-" trace when Debug is off. Nil
	// disables it.
	Progress io.Writer

	// Files archives every page and the merged dataset when set.
	Files *archive.FileSink

	// Sinks receive every page in addition to Files.
	Sinks []archive.Sink

	// PollInterval overrides the scheduler poll interval.
	PollInterval time.Duration
}

// Result is a finished export.
type Result struct {
	RunID   string
	Dataset *dataset.Dataset

	// Failed holds the tasks of both phases that ended with a task-level
	// error. Their pages are missing from the dataset.
	Failed []*job.Task

	// Skipped lists the completed tasks whose output was not folded.
	Skipped []dataset.Skipped

	Tasks    int
	Duration time.Duration
}

// Exporter drives an export against one management server.
type Exporter struct {
	client mgmt.Client
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger
}

// New creates an exporter.
func New(client mgmt.Client, cfg *config.Config, opts Options) *Exporter {
	return &Exporter{
		client: client,
		cfg:    cfg,
		opts:   opts,
		logger: logging.NewLogger(logging.ComponentExporter),
	}
}

// Run performs the export. The session is always logged out, including when
// a run aborts.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	creds := session.Credentials{User: e.cfg.MgmtUser, Password: e.cfg.MgmtPassword}

	var res *Result
	err := session.Scope(ctx, e.client, creds, func(s *session.Session) error {
		var err error
		res, err = e.export(ctx, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)

	e.logger.Info().
		Str("run_id", res.RunID).
		Int("records", res.Dataset.Len()).
		Int("layers", len(res.Dataset.Layers())).
		Int("tasks", res.Tasks).
		Int("failed", len(res.Failed)).
		Dur("duration", res.Duration).
		Msg("Export complete")
	return res, nil
}

func (e *Exporter) export(ctx context.Context, s *session.Session) (*Result, error) {
	opts := []job.Option{}
	if e.opts.PollInterval > 0 {
		opts = append(opts, job.WithPollInterval(e.opts.PollInterval))
	}
	sched := job.NewScheduler(mgmt.Bind(e.client, s), opts...)
	logger := logging.WithRunID(e.logger, sched.RunID())

	sinks := append([]archive.Sink(nil), e.opts.Sinks...)
	if e.opts.Files != nil {
		sinks = append(sinks, e.opts.Files)
	}

	// pages are archived before expansion, so a page failing the expander
	// is still on disk
	sched.Use(newProgress(e.opts.Debug, e.opts.Progress), dataset.OutputValidator{})
	if len(sinks) > 0 {
		sched.Use(archive.NewHooks(sinks...))
	}
	sched.Use(pagination.NewExpander(sched))

	agg := dataset.NewAggregator(dataset.DefaultCategories())
	res := &Result{RunID: sched.RunID(), Dataset: agg.Dataset()}

	// phase 1: the layers must be known before their rule bases are fetched
	sched.Enqueue(e.seed(mgmt.CategoryAccessLayers, mgmt.CategoryAccessLayers, nil))
	if err := e.runPhase(ctx, sched, agg, res, "layers"); err != nil {
		return nil, err
	}

	layers := agg.Dataset().Layers()
	if len(layers) == 0 {
		logger.Warn().Msg("No access layer discovered, the export has no rules")
	}

	// phase 2
	for _, l := range layers {
		sched.Enqueue(e.seed(mgmt.CategoryAccessRulebase, mgmt.CategoryAccessRulebase+"_"+l.UID(), map[string]any{
			"uid":                   l.UID(),
			"use-object-dictionary": true,
		}))
	}
	for _, category := range ObjectCategories {
		sched.Enqueue(e.seed(category, category, nil))
	}
	if err := e.runPhase(ctx, sched, agg, res, "objects"); err != nil {
		return nil, err
	}
	res.Skipped = agg.Skipped()

	if e.opts.Progress != nil && !e.opts.Debug {
		fmt.Fprintln(e.opts.Progress)
	}

	if e.opts.Files != nil {
		if err := e.opts.Files.WriteDataset(agg.Dataset()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Exporter) runPhase(ctx context.Context, sched *job.Scheduler, agg *dataset.Aggregator, res *Result, phase string) error {
	out, err := sched.Run(ctx, e.cfg.MaxJob, e.cfg.Timeout())
	if err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	res.Tasks += len(out.Done)
	res.Failed = append(res.Failed, out.Failures()...)

	if err := agg.Fold(out.Done); err != nil {
		return fmt.Errorf("%s phase: %w", phase, err)
	}
	return nil
}

func (e *Exporter) seed(category, name string, options map[string]any) *job.Task {
	t := job.NewTask(category, e.cfg.PageSize(category), options)
	t.Name = name
	return t
}

// ObjectCategories are fetched in the second phase next to the rule bases,
// in queueing order.
var ObjectCategories = []string{
	mgmt.CategoryHosts,
	mgmt.CategoryGroups,
	mgmt.CategoryGroupsWithExclusion,
	mgmt.CategoryNetworks,
	mgmt.CategoryAddressRanges,
	mgmt.CategoryMulticastAddressRanges,
	mgmt.CategorySimpleGateways,
	mgmt.CategoryServiceGroups,
	mgmt.CategoryServicesTCP,
	mgmt.CategoryServicesUDP,
	mgmt.CategoryServicesICMP,
	mgmt.CategoryServicesICMP6,
	mgmt.CategoryServicesOther,
	mgmt.CategoryServicesDCERPC,
	mgmt.CategoryServicesRPC,
	mgmt.CategoryServicesSCTP,
}

// WriteDocument writes the merged dataset as the export document, indented
// by two spaces.
func WriteDocument(w io.Writer, ds *dataset.Dataset) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

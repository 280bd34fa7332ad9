package exporter

import (
	"io"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/Sternrassler/ckp-export/pkg/logging"
	"github.com/Sternrassler/ckp-export/pkg/mgmt"
	"github.com/rs/zerolog"
)

// progress traces task starts and finishes, either as debug log lines or as
// a compact "+"/"-" trace.
type progress struct {
	debug  bool
	out    io.Writer
	logger zerolog.Logger
}

func newProgress(debug bool, out io.Writer) *progress {
	return &progress{
		debug:  debug,
		out:    out,
		logger: logging.NewLogger(logging.ComponentExporter),
	}
}

func (p *progress) OnStart(t *job.Task) {
	if p.debug {
		p.logger.Debug().
			Str("command", mgmt.ShowCommand(t.Category)).
			Str("task", t.String()).
			Msg("+")
		return
	}
	p.mark("+")
}

func (p *progress) OnComplete(t *job.Task) error {
	if p.debug {
		p.logger.Debug().
			Str("command", mgmt.ShowCommand(t.Category)).
			Str("task", t.String()).
			Dur("elapsed", t.Elapsed()).
			Msg("-")
		return nil
	}
	p.mark("-")
	return nil
}

func (p *progress) OnError(t *job.Task, err error) {
	if !p.debug {
		p.mark("!")
	}
}

func (p *progress) mark(s string) {
	if p.out != nil {
		_, _ = io.WriteString(p.out, s)
	}
}

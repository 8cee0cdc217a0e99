package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/relay/internal/presentation/tui"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// QueryOptions configures RunQuery.
type QueryOptions struct {
	Query     string
	SessionID string
	MaxSteps  int
	// Stream prints events as they happen instead of waiting for the report.
	Stream bool
	// JSON writes machine-readable output: the report, or one event per line when streaming.
	JSON bool
	// Interactive enables colors and markdown rendering.
	Interactive bool
}

// RunQuery submits one query and prints its outcome to out.
func RunQuery(ctx *SignalContext, engine ports.Orchestrator, opts QueryOptions, out io.Writer) error {
	req := domain.Request{Query: opts.Query, SessionKey: opts.SessionID, MaxSteps: opts.MaxSteps}
	printer := tui.NewPrinter(out, opts.Interactive)
	enc := json.NewEncoder(out)

	var (
		report *domain.Report
		err    error
	)
	if opts.Stream {
		report, err = engine.Stream(ctx, req, func(ev domain.Event) error {
			if opts.JSON {
				return enc.Encode(ev)
			}
			printer.Event(ev)
			return nil
		})
	} else {
		report, err = engine.Submit(ctx, req)
	}
	if err != nil {
		return handleExecutionError(out, err, ctx.Signal())
	}

	switch {
	case opts.JSON && !opts.Stream:
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case opts.JSON:
		return nil
	case opts.Stream:
		printSystemMessage(out, "Answered in session '%s'.", report.SessionKey)
		return nil
	}

	printer.Report(report)
	if opts.SessionID == "" {
		fmt.Fprintf(out, "\n")
		printSystemMessage(out, "Session '%s' created. Continue it with --session.", report.SessionKey)
	}
	return nil
}

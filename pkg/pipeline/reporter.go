package pipeline

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/stores"
)

// journalReporter mirrors lifecycle transitions into the local journal,
// scoped to one deployment unit of one run.
type journalReporter struct {
	store    stores.Store
	runID    string
	identity string
	kind     string
}

func newJournalReporter(store stores.Store, runID string, req *engine.DeploymentRequest) *journalReporter {
	return &journalReporter{
		store:    store,
		runID:    runID,
		identity: req.Identity,
		kind:     string(req.Kind),
	}
}

// Send implements engine.Reporter.
func (j *journalReporter) Send(ctx context.Context, stage string, status engine.ReportStatus, message string) error {
	return j.store.AppendStageEvent(ctx, &stores.StageEvent{
		RunID:     j.runID,
		Identity:  j.identity,
		Kind:      j.kind,
		Stage:     stage,
		Status:    string(status),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// fanoutReporter delivers each event to every sink. All sinks are attempted;
// errors are joined so the engine can log them without losing any.
type fanoutReporter struct {
	sinks []engine.Reporter
}

func newFanoutReporter(sinks ...engine.Reporter) *fanoutReporter {
	kept := make([]engine.Reporter, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &fanoutReporter{sinks: kept}
}

// Send implements engine.Reporter.
func (f *fanoutReporter) Send(ctx context.Context, stage string, status engine.ReportStatus, message string) error {
	var result *multierror.Error
	for _, sink := range f.sinks {
		if err := sink.Send(ctx, stage, status, message); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

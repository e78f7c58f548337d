package report

import (
	"context"
	"fmt"
	"log"

	"github.com/stakahashi/tenken/internal/event"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

// Sink delivers a snapshot to the external report endpoint.
type Sink interface {
	Send(ctx context.Context, snap *types.ReportSnapshot) error
	URL() string
}

// Publisher is the event side of the bus.
type Publisher interface {
	Publish(ctx context.Context, evt event.DomainEvent)
}

// Dispatcher runs the submit sequence. The report store is the source of
// truth: a store failure aborts the submission. The sink is a best-effort
// mirror: its failure is logged and leaves the stored report with
// mirrored=false, but never fails the submission.
type Dispatcher struct {
	reports store.ReportStore
	sink    Sink
	bus     Publisher
}

// NewDispatcher creates a dispatcher. sink may be nil when no mirror
// endpoint is configured; bus may be nil in tests.
func NewDispatcher(reports store.ReportStore, sink Sink, bus Publisher) *Dispatcher {
	return &Dispatcher{reports: reports, sink: sink, bus: bus}
}

// Dispatch writes the snapshot durably, then mirrors it to the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, snap *types.ReportSnapshot) error {
	if err := d.reports.AppendReport(ctx, snap); err != nil {
		return fmt.Errorf("storing report: %w", err)
	}
	d.publish(ctx, event.NewReportSubmitted(event.ReportSubmittedPayload{
		ReportID:    snap.ID,
		SubmittedBy: snap.SubmittedBy,
		PlaceCount:  len(snap.Values),
	}))

	if d.sink == nil {
		return nil
	}
	if err := d.sink.Send(ctx, snap); err != nil {
		log.Printf("report: sink mirror failed for %s: %v", snap.ID, err)
		d.publish(ctx, event.NewReportMirrorFailed(event.ReportMirrorPayload{
			ReportID: snap.ID, SinkURL: d.sink.URL(), Error: err.Error(),
		}))
		return nil
	}
	snap.Mirrored = true
	if err := d.reports.MarkMirrored(ctx, snap.ID); err != nil {
		log.Printf("report: marking %s mirrored: %v", snap.ID, err)
	}
	d.publish(ctx, event.NewReportMirrored(event.ReportMirrorPayload{
		ReportID: snap.ID, SinkURL: d.sink.URL(),
	}))
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, evt event.DomainEvent) {
	if d.bus != nil {
		d.bus.Publish(ctx, evt)
	}
}

package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stakahashi/tenken/internal/types"
)

// Event types published on the bus.
const (
	TypeStructureChanged   = "structure_changed"
	TypeReportSubmitted    = "report_submitted"
	TypeReportMirrored     = "report_mirrored"
	TypeReportMirrorFailed = "report_mirror_failed"
	TypeUserApproved       = "user_approved"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID         string
	EventType  string
	OccurredAt time.Time
	// Path is the collection path the event concerns, when it concerns one
	// ("places", "places/{id}/categories", ...). Empty for report and user
	// events.
	Path    string
	Summary string
	Payload json.RawMessage
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// StructureChangedPayload carries event-specific data for StructureChanged.
type StructureChangedPayload struct {
	Path string `json:"path"`
	// Op is "add", "delete", or "reorder".
	Op string `json:"op"`
	// DocID is the affected document for add/delete; empty for reorder.
	DocID string `json:"doc_id,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// NewStructureChanged records a committed write to one ordered collection.
// Watchers key off Path to decide whether to re-read.
func NewStructureChanged(p StructureChangedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeStructureChanged,
		OccurredAt: time.Now(),
		Path:       p.Path,
		Summary:    fmt.Sprintf("%s on %s", p.Op, p.Path),
		Payload:    mustJSON(p),
	}
}

// ReportSubmittedPayload carries event-specific data for ReportSubmitted.
type ReportSubmittedPayload struct {
	ReportID    string          `json:"report_id"`
	SubmittedBy types.Submitter `json:"submitted_by"`
	PlaceCount  int             `json:"place_count"`
}

func NewReportSubmitted(p ReportSubmittedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeReportSubmitted,
		OccurredAt: time.Now(),
		Summary:    fmt.Sprintf("report %s submitted by %s", p.ReportID, p.SubmittedBy.Name),
		Payload:    mustJSON(p),
	}
}

// ReportMirrorPayload carries event-specific data for the sink mirror outcome.
type ReportMirrorPayload struct {
	ReportID string `json:"report_id"`
	SinkURL  string `json:"sink_url"`
	Error    string `json:"error,omitempty"`
}

func NewReportMirrored(p ReportMirrorPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeReportMirrored,
		OccurredAt: time.Now(),
		Summary:    fmt.Sprintf("report %s mirrored to sink", p.ReportID),
		Payload:    mustJSON(p),
	}
}

func NewReportMirrorFailed(p ReportMirrorPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeReportMirrorFailed,
		OccurredAt: time.Now(),
		Summary:    fmt.Sprintf("report %s mirror failed: %s", p.ReportID, p.Error),
		Payload:    mustJSON(p),
	}
}

// UserApprovedPayload carries event-specific data for UserApproved.
type UserApprovedPayload struct {
	UserID   string `json:"user_id"`
	Approved bool   `json:"approved"`
	Actor    string `json:"actor"`
}

func NewUserApproved(p UserApprovedPayload) DomainEvent {
	return DomainEvent{
		ID:         newID(),
		EventType:  TypeUserApproved,
		OccurredAt: time.Now(),
		Summary:    fmt.Sprintf("user %s approved=%t by %s", p.UserID, p.Approved, p.Actor),
		Payload:    mustJSON(p),
	}
}

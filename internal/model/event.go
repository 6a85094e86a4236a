package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// EventType discriminates ResearchEvent variants on the wire.
type EventType string

const (
	EventJobStarted       EventType = "job_started"
	EventSourceFetched    EventType = "source_fetched"
	EventAnalysisComplete EventType = "analysis_complete"
	EventJobComplete      EventType = "job_complete"
	EventSessionComplete  EventType = "session_complete"
	EventError            EventType = "error"
)

// ResearchEvent records one state transition of a research run. Only the
// fields relevant to Type are serialized.
type ResearchEvent struct {
	Type          EventType
	VendorID      string
	VendorName    string
	URL           string
	Title         string
	Status        PageStatus
	RequirementID string
	EvidenceCount int
	TotalEvidence int
	Duration      time.Duration
	Message       string
}

// JobStartedEvent marks the start of a vendor's job.
func JobStartedEvent(vendor Vendor) ResearchEvent {
	return ResearchEvent{Type: EventJobStarted, VendorID: vendor.ID, VendorName: vendor.Name}
}

// SourceFetchedEvent reports the outcome of fetching one page.
func SourceFetchedEvent(page FetchedPage) ResearchEvent {
	return ResearchEvent{
		Type:     EventSourceFetched,
		VendorID: page.VendorID,
		URL:      page.URL,
		Title:    page.Title,
		Status:   page.Status,
	}
}

// AnalysisCompleteEvent reports how many items one requirement produced.
func AnalysisCompleteEvent(vendorID, requirementID string, count int) ResearchEvent {
	return ResearchEvent{
		Type:          EventAnalysisComplete,
		VendorID:      vendorID,
		RequirementID: requirementID,
		EvidenceCount: count,
	}
}

// JobCompleteEvent closes a vendor's job with its deduplicated total.
func JobCompleteEvent(vendorID string, total int) ResearchEvent {
	return ResearchEvent{Type: EventJobComplete, VendorID: vendorID, TotalEvidence: total}
}

// SessionCompleteEvent ends a session that ran to completion.
func SessionCompleteEvent(total int, d time.Duration) ResearchEvent {
	return ResearchEvent{Type: EventSessionComplete, TotalEvidence: total, Duration: d}
}

// ErrorEvent builds an error event. vendorID is empty for session-level errors.
func ErrorEvent(vendorID, message string) ResearchEvent {
	return ResearchEvent{Type: EventError, VendorID: vendorID, Message: message}
}

// Terminal reports whether the event ends a session's event log.
func (e ResearchEvent) Terminal() bool {
	return e.Type == EventSessionComplete || (e.Type == EventError && e.VendorID == "")
}

// wireEvent is the union of all event fields as they appear in JSON.
type wireEvent struct {
	Type          EventType  `json:"type"`
	VendorID      string     `json:"vendorId,omitempty"`
	VendorName    string     `json:"vendorName,omitempty"`
	URL           string     `json:"url,omitempty"`
	Title         *string    `json:"title,omitempty"`
	Status        PageStatus `json:"status,omitempty"`
	RequirementID string     `json:"requirementId,omitempty"`
	EvidenceCount *int       `json:"evidenceCount,omitempty"`
	TotalEvidence *int       `json:"totalEvidence,omitempty"`
	Duration      *int64     `json:"duration,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// MarshalJSON emits the exact field set for the event's type. Duration is
// encoded in milliseconds.
func (e ResearchEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type}
	switch e.Type {
	case EventJobStarted:
		w.VendorID, w.VendorName = e.VendorID, e.VendorName
	case EventSourceFetched:
		w.VendorID, w.URL, w.Status = e.VendorID, e.URL, e.Status
		w.Title = &e.Title
	case EventAnalysisComplete:
		w.VendorID, w.RequirementID = e.VendorID, e.RequirementID
		w.EvidenceCount = &e.EvidenceCount
	case EventJobComplete:
		w.VendorID = e.VendorID
		w.TotalEvidence = &e.TotalEvidence
	case EventSessionComplete:
		ms := e.Duration.Milliseconds()
		w.TotalEvidence, w.Duration = &e.TotalEvidence, &ms
	case EventError:
		w.VendorID, w.Message = e.VendorID, e.Message
	default:
		return nil, eris.Errorf("model: unknown event type %q", e.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes any event variant.
func (e *ResearchEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: decode event")
	}
	*e = ResearchEvent{
		Type:          w.Type,
		VendorID:      w.VendorID,
		VendorName:    w.VendorName,
		URL:           w.URL,
		Status:        w.Status,
		RequirementID: w.RequirementID,
		Message:       w.Message,
	}
	if w.Title != nil {
		e.Title = *w.Title
	}
	if w.EvidenceCount != nil {
		e.EvidenceCount = *w.EvidenceCount
	}
	if w.TotalEvidence != nil {
		e.TotalEvidence = *w.TotalEvidence
	}
	if w.Duration != nil {
		e.Duration = time.Duration(*w.Duration) * time.Millisecond
	}
	return nil
}

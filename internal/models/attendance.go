package models

import "time"

// EventSource identifies where a scan came from.
type EventSource string

const (
	SourceCamera    EventSource = "camera"
	SourceManual    EventSource = "manual"
	SourceEmailCode EventSource = "email-code"
)

// Valid reports whether the source is supported.
func (s EventSource) Valid() bool {
	switch s {
	case SourceCamera, SourceManual, SourceEmailCode:
		return true
	default:
		return false
	}
}

// EventOutcome is the classification assigned to a single submission.
type EventOutcome string

const (
	OutcomeAccepted    EventOutcome = "accepted"
	OutcomeDuplicate   EventOutcome = "duplicate"
	OutcomeUnknownCode EventOutcome = "unknown-code"
)

// Valid reports whether the outcome is supported.
func (o EventOutcome) Valid() bool {
	switch o {
	case OutcomeAccepted, OutcomeDuplicate, OutcomeUnknownCode:
		return true
	default:
		return false
	}
}

// SessionDateLayout is the wire and storage format of session dates.
const SessionDateLayout = "2006-01-02"

// AttendanceEvent is an immutable ledger row. StudentID is nil for
// unknown-code events.
type AttendanceEvent struct {
	ID          string       `json:"event_id"`
	StudentID   *string      `json:"student_id,omitempty"`
	ScanCode    string       `json:"scan_code"`
	SessionDate string       `json:"session_date"`
	Timestamp   time.Time    `json:"timestamp"`
	Source      EventSource  `json:"source"`
	Outcome     EventOutcome `json:"outcome"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ScanRequest is a decoded code submitted by a collaborator. A zero
// Timestamp means "now".
type ScanRequest struct {
	Code      string      `json:"code" validate:"required,max=256"`
	Timestamp time.Time   `json:"timestamp"`
	Source    EventSource `json:"source" validate:"required,oneof=camera manual email-code"`
}

// ScanOutcome is returned for every submission. Student is nil for
// unknown codes.
type ScanOutcome struct {
	Status      EventOutcome    `json:"status"`
	Student     *Student        `json:"student,omitempty"`
	Event       AttendanceEvent `json:"event"`
	SessionDate string          `json:"session_date"`
}

// ManualRecordRequest is an operator entry for a student who was present
// but not scanned.
type ManualRecordRequest struct {
	StudentID   string     `json:"student_id" validate:"required"`
	SessionDate string     `json:"session_date" validate:"required,datetime=2006-01-02"`
	Timestamp   *time.Time `json:"timestamp"`
}

// EventFilter narrows ledger queries. All fields are optional; From and To
// are inclusive session dates.
type EventFilter struct {
	StudentID   string
	SessionDate string
	From        string
	To          string
	Outcome     EventOutcome
	Page        int
	PageSize    int
}

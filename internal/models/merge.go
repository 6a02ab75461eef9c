package models

import "time"

// StationStudent is a roster row exported by another station.
type StationStudent struct {
	StudentID     string     `json:"student_id" validate:"required,max=128"`
	ExternalID    *string    `json:"external_id" validate:"omitempty,max=128"`
	ScanCode      string     `json:"scan_code" validate:"required,min=4,max=64,alphanum"`
	FirstName     string     `json:"first_name" validate:"required,max=100"`
	LastName      string     `json:"last_name" validate:"required,max=100"`
	GradYear      int        `json:"grad_year" validate:"required,gte=1900,lte=2200"`
	Email         string     `json:"email" validate:"omitempty,email,max=254"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
}

// StationEvent is a ledger row exported by another station. The session
// date is recomputed locally from Timestamp.
type StationEvent struct {
	EventID   string       `json:"event_id" validate:"required,max=64"`
	StudentID *string      `json:"student_id"`
	ScanCode  string       `json:"scan_code" validate:"max=256"`
	Timestamp time.Time    `json:"timestamp" validate:"required"`
	Source    EventSource  `json:"source" validate:"required,oneof=camera manual email-code"`
	Outcome   EventOutcome `json:"outcome" validate:"required,oneof=accepted duplicate unknown-code"`
}

// StationExport is everything one station hands to another for merging.
type StationExport struct {
	Students []StationStudent `json:"students" validate:"dive"`
	Events   []StationEvent   `json:"events" validate:"dive"`
}

// MergeReport summarises a merge. Accepted events that collide with an
// accepted event already present are counted under Duplicates.
type MergeReport struct {
	StudentsAdded   []Student         `json:"students_added"`
	StudentsSkipped int               `json:"students_skipped"`
	ReplacedCodes   []CodeReplacement `json:"replaced_codes,omitempty"`
	Accepted        int               `json:"accepted"`
	Duplicates      int               `json:"duplicates"`
	UnknownCodes    int               `json:"unknown_codes"`
	EventsSkipped   int               `json:"events_skipped"`
}

package models

import "time"

// PresenceStatus is the derived per-day status of a student.
type PresenceStatus string

const (
	StatusPresent PresenceStatus = "present"
	StatusAbsent  PresenceStatus = "absent"
)

// DailySummaryRow describes one student on one session date.
type DailySummaryRow struct {
	StudentID   string         `json:"student_id"`
	Name        string         `json:"name"`
	GradYear    int            `json:"grad_year"`
	Active      bool           `json:"active"`
	Status      PresenceStatus `json:"status"`
	FirstScanAt *time.Time     `json:"first_scan_at,omitempty"`
	LastScanAt  *time.Time     `json:"last_scan_at,omitempty"`
	ScanCount   int            `json:"scan_count"`
}

// DailySummary is the roll call for one session date.
type DailySummary struct {
	SessionDate    string            `json:"session_date"`
	Students       []DailySummaryRow `json:"students"`
	PresentCount   int               `json:"present_count"`
	AbsentCount    int               `json:"absent_count"`
	UnknownScans   int               `json:"unknown_scans"`
	DuplicateScans int               `json:"duplicate_scans"`
}

// StudentDay is one session date in a student's history.
type StudentDay struct {
	SessionDate string         `json:"session_date"`
	Status      PresenceStatus `json:"status"`
	FirstScanAt *time.Time     `json:"first_scan_at,omitempty"`
}

// StudentSummary lists a student's status for every session in a range.
type StudentSummary struct {
	Student      Student      `json:"student"`
	From         string       `json:"from,omitempty"`
	To           string       `json:"to,omitempty"`
	Days         []StudentDay `json:"days"`
	PresentCount int          `json:"present_count"`
	AbsentCount  int          `json:"absent_count"`
	Percent      float64      `json:"attendance_percent"`
}

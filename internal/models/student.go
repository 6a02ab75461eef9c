package models

import (
	"strings"
	"time"
)

// Student is a roster entry. ID never changes once assigned; ScanCode
// changes only through an explicit reissue.
type Student struct {
	ID            string     `json:"student_id"`
	ExternalID    *string    `json:"external_id,omitempty"`
	ScanCode      string     `json:"scan_code"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	GradYear      int        `json:"grad_year"`
	Email         string     `json:"email"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// FullName joins first and last name for display.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// SyncKey is the identity used when reconciling against an external roster:
// the external id when present, otherwise the lower-cased email.
func (s Student) SyncKey() string {
	if s.ExternalID != nil && strings.TrimSpace(*s.ExternalID) != "" {
		return strings.TrimSpace(*s.ExternalID)
	}
	return strings.ToLower(strings.TrimSpace(s.Email))
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	GradYear  *int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// UpsertStudentRequest is the payload for creating or editing a student.
// An empty ScanCode on create asks for a generated one; on update it keeps
// the current code.
type UpsertStudentRequest struct {
	StudentID  string  `json:"student_id" validate:"omitempty,max=128"`
	ExternalID *string `json:"external_id" validate:"omitempty,max=128"`
	ScanCode   string  `json:"scan_code" validate:"omitempty,min=4,max=64,alphanum"`
	FirstName  string  `json:"first_name" validate:"required,max=100"`
	LastName   string  `json:"last_name" validate:"required,max=100"`
	GradYear   int     `json:"grad_year" validate:"required,gte=1900,lte=2200"`
	Email      string  `json:"email" validate:"omitempty,email,max=254"`
}

// ScanCodeEntry is one row of the code export handed to the mailer.
type ScanCodeEntry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ScanCode  string `json:"scan_code"`
}

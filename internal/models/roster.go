package models

// RosterSnapshotRow is a student-shaped row fetched from an external roster.
// ExternalID or Email must identify the row.
type RosterSnapshotRow struct {
	ExternalID string `json:"external_id" validate:"required_without=Email,max=128"`
	ScanCode   string `json:"scan_code" validate:"omitempty,min=4,max=64,alphanum"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	GradYear   int    `json:"grad_year" validate:"required,gte=1900,lte=2200"`
	Email      string `json:"email" validate:"required_without=ExternalID,omitempty,email,max=254"`
}

// RosterSnapshot is the ordered input of a reconcile run.
type RosterSnapshot struct {
	Rows []RosterSnapshotRow `json:"rows" validate:"dive"`
}

// CodeReplacement records a snapshot code that was taken by another active
// student and replaced with a generated one.
type CodeReplacement struct {
	StudentID     string `json:"student_id"`
	RequestedCode string `json:"requested_code"`
	AssignedCode  string `json:"assigned_code"`
}

// DiffReport summarises what a reconcile run changed.
type DiffReport struct {
	Added         []Student         `json:"added"`
	Updated       []Student         `json:"updated"`
	Deactivated   []Student         `json:"deactivated"`
	ReplacedCodes []CodeReplacement `json:"replaced_codes,omitempty"`
}

// Empty reports whether the run changed nothing.
func (d DiffReport) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Deactivated) == 0
}

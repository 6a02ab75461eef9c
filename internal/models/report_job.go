package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReportType enumerates supported asynchronous report categories.
type ReportType string

const (
	ReportTypeDaily      ReportType = "daily"
	ReportTypeStudent    ReportType = "student"
	ReportTypeCodes      ReportType = "codes"
	ReportTypeAttendance ReportType = "attendance"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob persisted background job metadata.
type ReportJob struct {
	ID           string          `json:"id"`
	Type         ReportType      `json:"type"`
	Params       ReportJobParams `json:"params"`
	Status       ReportStatus    `json:"status"`
	Progress     int             `json:"progress"`
	ResultURL    *string         `json:"result_url,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// ReportJobParams stores request-scoped options persisted as JSON text.
type ReportJobParams struct {
	Format      ReportFormat `json:"format"`
	SessionDate string       `json:"sessionDate,omitempty"`
	Active      bool         `json:"active,omitempty"`
	StudentID   string       `json:"studentId,omitempty"`
	StudentIDs  []string     `json:"studentIds,omitempty"`
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
}

// Value marshals params to a JSON string; the column is TEXT on both drivers.
func (p ReportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal report job params: %w", err)
	}
	return string(data), nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ReportJobParams) Scan(value interface{}) error {
	if value == nil {
		*p = ReportJobParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReportJobParams", value)
	}
	if len(data) == 0 {
		*p = ReportJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal report job params: %w", err)
	}
	return nil
}

// CreateReportRequest is the payload for POST /reports.
type CreateReportRequest struct {
	Type        ReportType   `json:"type" validate:"required,oneof=daily student codes attendance"`
	Format      ReportFormat `json:"format" validate:"required,oneof=csv pdf"`
	SessionDate string       `json:"session_date" validate:"omitempty,datetime=2006-01-02"`
	Active      bool         `json:"active"`
	StudentID   string       `json:"student_id" validate:"omitempty,max=128"`
	StudentIDs  []string     `json:"student_ids" validate:"omitempty,dive,required"`
	From        string       `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To          string       `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

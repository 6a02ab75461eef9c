package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Scan Attendance API",
        "description": "Club attendance from scanned member codes",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Auth", "description": "Operator login"},
        {"name": "Scans", "description": "Code submissions from stations"},
        {"name": "Students", "description": "Roster management"},
        {"name": "Attendance", "description": "Attendance ledger"},
        {"name": "Sessions", "description": "Per-day summaries"},
        {"name": "Roster", "description": "Sheet sync reconciliation"},
        {"name": "Stations", "description": "Merging data from other scanning stations"},
        {"name": "Reports", "description": "Asynchronous CSV and PDF exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Operator login",
                "security": [],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Token issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid password", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/scans": {
            "post": {
                "tags": ["Scans"],
                "summary": "Submit a scanned code",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/ScanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Outcome accepted, duplicate or unknown-code", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Storage unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "parameters": [
                    {"in": "query", "name": "search", "type": "string"},
                    {"in": "query", "name": "active", "type": "boolean"},
                    {"in": "query", "name": "grad_year", "type": "integer"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "limit", "type": "integer"},
                    {"in": "query", "name": "sort", "type": "string", "enum": ["name", "grad_year", "created_at"]},
                    {"in": "query", "name": "order", "type": "string", "enum": ["asc", "desc"]}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Students"],
                "summary": "Create or update a student",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/UpsertStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Scan code taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/codes": {
            "get": {
                "tags": ["Students"],
                "summary": "Export scan codes",
                "parameters": [
                    {"in": "query", "name": "ids", "type": "string", "description": "Comma separated student ids"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update student",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/UpsertStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Scan code taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Deactivate student",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Deactivated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/reissue-code": {
            "post": {
                "tags": ["Students"],
                "summary": "Issue a fresh scan code",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/students/{id}/summary": {
            "get": {
                "tags": ["Students"],
                "summary": "Student attendance history",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "from", "type": "string"},
                    {"in": "query", "name": "to", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Query attendance events",
                "parameters": [
                    {"in": "query", "name": "student_id", "type": "string"},
                    {"in": "query", "name": "session_date", "type": "string"},
                    {"in": "query", "name": "from", "type": "string"},
                    {"in": "query", "name": "to", "type": "string"},
                    {"in": "query", "name": "outcome", "type": "string", "enum": ["accepted", "duplicate", "unknown-code"]},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "limit", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/attendance/manual": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record attendance manually",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/ManualRecordRequest"}}
                ],
                "responses": {"201": {"description": "Recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/attendance/{id}": {
            "delete": {
                "tags": ["Attendance"],
                "summary": "Delete an attendance event",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{date}/summary": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Daily attendance summary",
                "parameters": [
                    {"in": "path", "name": "date", "required": true, "type": "string"},
                    {"in": "query", "name": "active", "type": "boolean"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/roster/reconcile": {
            "post": {
                "tags": ["Roster"],
                "summary": "Reconcile roster snapshot",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RosterSnapshot"}}
                ],
                "responses": {
                    "200": {"description": "Diff report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid snapshot", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/stations/merge": {
            "post": {
                "tags": ["Stations"],
                "summary": "Merge another station's data",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/StationExport"}}
                ],
                "responses": {
                    "200": {"description": "Merge report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid export", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a report",
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/CreateReportRequest"}}
                ],
                "responses": {"202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished report",
                "security": [],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [{"in": "path", "name": "token", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["password"],
            "properties": {"password": {"type": "string"}}
        },
        "ScanRequest": {
            "type": "object",
            "required": ["code", "source"],
            "properties": {
                "code": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "source": {"type": "string", "enum": ["camera", "manual", "email-code"]}
            }
        },
        "UpsertStudentRequest": {
            "type": "object",
            "required": ["first_name", "last_name", "grad_year"],
            "properties": {
                "student_id": {"type": "string"},
                "external_id": {"type": "string"},
                "scan_code": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "grad_year": {"type": "integer"},
                "email": {"type": "string"}
            }
        },
        "ManualRecordRequest": {
            "type": "object",
            "required": ["student_id", "session_date"],
            "properties": {
                "student_id": {"type": "string"},
                "session_date": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "RosterSnapshotRow": {
            "type": "object",
            "properties": {
                "external_id": {"type": "string"},
                "scan_code": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "grad_year": {"type": "integer"},
                "email": {"type": "string"}
            }
        },
        "RosterSnapshot": {
            "type": "object",
            "properties": {
                "rows": {"type": "array", "items": {"$ref": "#/definitions/RosterSnapshotRow"}}
            }
        },
        "StationStudent": {
            "type": "object",
            "required": ["student_id", "scan_code", "first_name", "last_name", "grad_year"],
            "properties": {
                "student_id": {"type": "string"},
                "external_id": {"type": "string"},
                "scan_code": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "grad_year": {"type": "integer"},
                "email": {"type": "string"},
                "deactivated_at": {"type": "string", "format": "date-time"}
            }
        },
        "StationEvent": {
            "type": "object",
            "required": ["event_id", "timestamp", "source", "outcome"],
            "properties": {
                "event_id": {"type": "string"},
                "student_id": {"type": "string"},
                "scan_code": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "source": {"type": "string", "enum": ["camera", "manual", "email-code"]},
                "outcome": {"type": "string", "enum": ["accepted", "duplicate", "unknown-code"]}
            }
        },
        "StationExport": {
            "type": "object",
            "properties": {
                "students": {"type": "array", "items": {"$ref": "#/definitions/StationStudent"}},
                "events": {"type": "array", "items": {"$ref": "#/definitions/StationEvent"}}
            }
        },
        "CreateReportRequest": {
            "type": "object",
            "required": ["type", "format"],
            "properties": {
                "type": {"type": "string", "enum": ["daily", "student", "codes", "attendance"]},
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "session_date": {"type": "string"},
                "active": {"type": "boolean"},
                "student_id": {"type": "string"},
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "from": {"type": "string"},
                "to": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

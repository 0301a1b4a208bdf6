package dto

import (
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// RowBatch is the raw rows of one vendor export. Platform wins over Filename
// when both are given.
type RowBatch struct {
	Platform string              `json:"platform,omitempty"`
	Filename string              `json:"filename,omitempty"`
	Rows     []map[string]string `json:"rows" binding:"required"`
}

// NormalizeRequest asks for the canonical drafts of one export
type NormalizeRequest struct {
	RowBatch
}

// RowErrorResponse describes a skipped row
type RowErrorResponse struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NormalizeResponse carries the drafts of one export
type NormalizeResponse struct {
	Platform string                    `json:"platform"`
	Drafts   []domain.ReservationDraft `json:"drafts"`
	Assigned int                       `json:"assigned"`
	Skipped  int                       `json:"skipped"`
	Errors   []RowErrorResponse        `json:"errors,omitempty"`
}

// ExtractMetadataRequest carries the header region of an export
type ExtractMetadataRequest struct {
	Filename    string     `json:"filename"`
	HeaderCells [][]string `json:"header_cells"`
}

// MetadataResponse is the advisory session metadata found in an export
type MetadataResponse struct {
	Name     string `json:"name"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Platform string `json:"platform,omitempty"`
	Complete bool   `json:"complete"`
}

// ImportRequest confirms a session and the exports that replace its reservations
type ImportRequest struct {
	Name    string     `json:"name" binding:"required"`
	Date    string     `json:"date" binding:"required"`
	Time    string     `json:"time" binding:"required"`
	Force   bool       `json:"force"`
	Batches []RowBatch `json:"batches" binding:"required,min=1,dive"`
}

// Key returns the session key of the request
func (r *ImportRequest) Key() domain.SessionKey {
	return domain.SessionKey{Name: r.Name, Date: r.Date, Time: r.Time}.Normalize()
}

// ImportResponse reports the outcome of an import
type ImportResponse struct {
	SessionID     string             `json:"session_id"`
	InsertedCount int                `json:"inserted_count"`
	SkippedCount  int                `json:"skipped_count"`
	DeletedCount  int                `json:"deleted_count"`
	Created       bool               `json:"created"`
	Replaced      bool               `json:"replaced"`
	Errors        []RowErrorResponse `json:"errors,omitempty"`
}

// RowErrors converts row errors for a response. offset shifts row numbers
// when several batches are reported together.
func RowErrors(errs []*domain.RowError, offset int) []RowErrorResponse {
	out := make([]RowErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, RowErrorResponse{Row: e.Row + offset, Field: e.Field, Message: e.Err.Error()})
	}
	return out
}

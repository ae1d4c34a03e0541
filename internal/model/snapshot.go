package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// NoColumn marks an optional column that was not detected.
const NoColumn = -1

// ColumnMapping holds 0-based column indices; NoColumn for absent optional columns.
type ColumnMapping struct {
	ID        int `json:"id"`
	Name      int `json:"name"`
	Amount    int `json:"amount"`
	Unit      int `json:"unit"`
	Brand     int `json:"brand"`
	Agent     int `json:"agent"`
	AgentCode int `json:"agent_code"`
}

// EmptyMapping returns a mapping with every column absent.
func EmptyMapping() ColumnMapping {
	return ColumnMapping{
		ID: NoColumn, Name: NoColumn, Amount: NoColumn,
		Unit: NoColumn, Brand: NoColumn, Agent: NoColumn, AgentCode: NoColumn,
	}
}

// HasMandatory reports whether id, name and amount are all mapped.
func (m ColumnMapping) HasMandatory() bool {
	return m.ID != NoColumn && m.Name != NoColumn && m.Amount != NoColumn
}

// Indices returns every mapped column index keyed by its semantic name.
func (m ColumnMapping) Indices() map[string]int {
	out := make(map[string]int, 7)
	for name, idx := range map[string]int{
		"id": m.ID, "name": m.Name, "amount": m.Amount,
		"unit": m.Unit, "brand": m.Brand, "agent": m.Agent, "agent_code": m.AgentCode,
	} {
		if idx != NoColumn {
			out[name] = idx
		}
	}
	return out
}

// MatchTarget is the identifying text of the scope a spreadsheet is filtered against.
type MatchTarget struct {
	AgentName string `json:"agent_name,omitempty"`
	AgentCode string `json:"agent_code,omitempty"`
	BrandName string `json:"brand_name,omitempty"`
	UnitName  string `json:"unit_name,omitempty"`
}

// SpreadsheetSnapshot is the structured result of an ingested debt-detail table.
// FilteredRows and Total are always recomputable from RawRows, Columns and Target.
type SpreadsheetSnapshot struct {
	FileName     string          `json:"file_name"`
	Headers      []string        `json:"headers"`
	HeaderRow    int             `json:"header_row"`
	Columns      ColumnMapping   `json:"columns"`
	Manual       bool            `json:"manual"`
	Target       MatchTarget     `json:"target"`
	RawRows      [][]string      `json:"raw_rows"`
	FilteredRows [][]string      `json:"filtered_rows"`
	Total        decimal.Decimal `json:"total"`
}

// Validate checks the structural invariants of a decoded snapshot.
func (s *SpreadsheetSnapshot) Validate() error {
	if s == nil {
		return nil
	}
	if !s.Columns.HasMandatory() {
		return errors.New("snapshot: id, name and amount columns are required")
	}
	width := len(s.Headers)
	for name, idx := range s.Columns.Indices() {
		if idx < 0 || (width > 0 && idx >= width) {
			return fmt.Errorf("snapshot: column %s index %d out of range (%d headers)", name, idx, width)
		}
	}
	if len(s.FilteredRows) > len(s.RawRows) {
		return fmt.Errorf("snapshot: %d filtered rows exceed %d raw rows", len(s.FilteredRows), len(s.RawRows))
	}
	return nil
}

// Value implements driver.Valuer so the snapshot is stored as a single JSONB document.
func (s *SpreadsheetSnapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner; the document is decoded and validated once here.
func (s *SpreadsheetSnapshot) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("snapshot: unsupported column type %T", value)
	}
	var decoded SpreadsheetSnapshot
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("snapshot: decode: %w", err)
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*s = decoded
	return nil
}

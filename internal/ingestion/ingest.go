// Package ingestion turns an uploaded debt-detail table into a SpreadsheetSnapshot:
// it finds the header row, maps semantic columns, keeps the rows that belong to the
// target scope and totals their amounts.
package ingestion

import (
	"fmt"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"

	"github.com/shopspring/decimal"
)

// Options tunes the engine; zero values fall back to the defaults.
type Options struct {
	HeaderScanRows      int
	TokenMatchRatio     float64
	MismatchSampleLimit int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{HeaderScanRows: 5, TokenMatchRatio: DefaultTokenMatchRatio, MismatchSampleLimit: 5}
}

// Stats describes how the filter treated the table.
type Stats struct {
	TotalRows       int                 `json:"total_rows"`
	MatchedRows     int                 `json:"matched_rows"`
	MismatchSamples map[string][]string `json:"mismatch_samples,omitempty"`
}

// Result is the outcome of one ingestion pass.
// NeedsMapping is set when id, name and amount could not all be detected;
// the snapshot then carries headers and raw rows only.
type Result struct {
	Snapshot     model.SpreadsheetSnapshot `json:"snapshot"`
	Stats        Stats                     `json:"stats"`
	NeedsMapping bool                      `json:"needs_mapping"`
}

// Engine is safe for concurrent use.
type Engine struct {
	opts    Options
	aliases Aliases
}

// NewEngine builds an engine over the embedded header dictionary.
func NewEngine(opts Options) *Engine {
	return NewEngineWithAliases(opts, DefaultAliases())
}

func NewEngineWithAliases(opts Options, aliases Aliases) *Engine {
	def := DefaultOptions()
	if opts.HeaderScanRows <= 0 {
		opts.HeaderScanRows = def.HeaderScanRows
	}
	if opts.TokenMatchRatio <= 0 {
		opts.TokenMatchRatio = def.TokenMatchRatio
	}
	if opts.MismatchSampleLimit <= 0 {
		opts.MismatchSampleLimit = def.MismatchSampleLimit
	}
	return &Engine{opts: opts, aliases: aliases}
}

// Match applies the engine's fuzzy matching strategy.
func (e *Engine) Match(a, b string) bool {
	return fuzzyMatch(a, b, e.opts.TokenMatchRatio)
}

// Process parses the file, detects columns and filters rows against target.
//
// A non-nil Result is returned together with a SpreadsheetFormat error when the
// table parsed but no row matched the target; its Stats carry the mismatch samples.
func (e *Engine) Process(data []byte, fileName string, target model.MatchTarget) (*Result, error) {
	rows, err := readTable(data, fileName)
	if err != nil {
		return nil, apperror.SpreadsheetFormat("The file could not be read. Upload an .xlsx or .csv table.", err)
	}

	headerRow, mapping, ok := e.aliases.detectHeader(rows, e.opts.HeaderScanRows)
	snap := newSnapshot(rows, headerRow, fileName, target)
	if len(snap.RawRows) == 0 {
		return nil, apperror.SpreadsheetFormat("The table has no data rows.", nil)
	}
	if !ok {
		snap.Columns = mapping
		return &Result{Snapshot: snap, Stats: Stats{TotalRows: len(snap.RawRows)}, NeedsMapping: true}, nil
	}
	snap.Columns = mapping
	return e.finish(snap)
}

// ProcessWithMapping repeats Process with explicit column indices chosen by a person.
func (e *Engine) ProcessWithMapping(data []byte, fileName string, target model.MatchTarget, mapping model.ColumnMapping) (*Result, error) {
	rows, err := readTable(data, fileName)
	if err != nil {
		return nil, apperror.SpreadsheetFormat("The file could not be read. Upload an .xlsx or .csv table.", err)
	}

	headerRow, _, _ := e.aliases.detectHeader(rows, e.opts.HeaderScanRows)
	snap := newSnapshot(rows, headerRow, fileName, target)
	if len(snap.RawRows) == 0 {
		return nil, apperror.SpreadsheetFormat("The table has no data rows.", nil)
	}
	if err := checkMapping(mapping, len(snap.Headers)); err != nil {
		return nil, err
	}
	snap.Columns = mapping
	snap.Manual = true
	return e.finish(snap)
}

// Reaggregate recomputes filtered rows and total from the snapshot's raw rows,
// columns and target. It never re-detects columns.
func (e *Engine) Reaggregate(s model.SpreadsheetSnapshot) model.SpreadsheetSnapshot {
	filtered, _ := e.filter(s.RawRows, s.Columns, s.Target)
	s.FilteredRows = filtered
	s.Total = sumAmounts(filtered, s.Columns.Amount)
	return s
}

func (e *Engine) finish(snap model.SpreadsheetSnapshot) (*Result, error) {
	filtered, samples := e.filter(snap.RawRows, snap.Columns, snap.Target)
	snap.FilteredRows = filtered
	snap.Total = sumAmounts(filtered, snap.Columns.Amount)

	res := &Result{
		Snapshot: snap,
		Stats: Stats{
			TotalRows:       len(snap.RawRows),
			MatchedRows:     len(filtered),
			MismatchSamples: samples,
		},
	}
	if len(filtered) == 0 {
		return res, apperror.SpreadsheetFormat("No rows in the table match the selected agent or brand.", nil).
			WithDetails(map[string]any{"mismatch_samples": samples, "total_rows": len(snap.RawRows)})
	}
	return res, nil
}

type rowFilter struct {
	name   string
	column int
	target string
	exact  bool
}

func (e *Engine) filters(m model.ColumnMapping, t model.MatchTarget) []rowFilter {
	candidates := []rowFilter{
		{ColAgentCode, m.AgentCode, t.AgentCode, true},
		{ColAgent, m.Agent, t.AgentName, false},
		{ColBrand, m.Brand, t.BrandName, false},
		{ColUnit, m.Unit, t.UnitName, false},
	}
	var out []rowFilter
	for _, f := range candidates {
		if f.column != model.NoColumn && normalize(f.target) != "" {
			out = append(out, f)
		}
	}
	return out
}

// filter keeps rows that pass every active filter and records up to
// MismatchSampleLimit distinct rejected values per filter column.
func (e *Engine) filter(rows [][]string, m model.ColumnMapping, t model.MatchTarget) ([][]string, map[string][]string) {
	active := e.filters(m, t)
	if len(active) == 0 {
		return append([][]string(nil), rows...), nil
	}

	kept := make([][]string, 0, len(rows))
	samples := map[string][]string{}
	seen := map[string]map[string]bool{}
	for _, row := range rows {
		pass := true
		for _, f := range active {
			v := cell(row, f.column)
			if v != "" && e.accept(f, v) {
				continue
			}
			pass = false
			if v == "" || len(samples[f.name]) >= e.opts.MismatchSampleLimit {
				continue
			}
			if seen[f.name] == nil {
				seen[f.name] = map[string]bool{}
			}
			if !seen[f.name][v] {
				seen[f.name][v] = true
				samples[f.name] = append(samples[f.name], v)
			}
		}
		if pass {
			kept = append(kept, row)
		}
	}
	return kept, samples
}

func (e *Engine) accept(f rowFilter, v string) bool {
	if f.exact {
		return normalize(v) == normalize(f.target)
	}
	return e.Match(v, f.target)
}

func newSnapshot(rows [][]string, headerRow int, fileName string, target model.MatchTarget) model.SpreadsheetSnapshot {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	snap := model.SpreadsheetSnapshot{
		FileName:  fileName,
		HeaderRow: headerRow,
		Target:    target,
		Columns:   model.EmptyMapping(),
		Total:     decimal.Zero,
	}
	if headerRow < len(rows) {
		snap.Headers = make([]string, width)
		copy(snap.Headers, rows[headerRow])
		for _, r := range rows[headerRow+1:] {
			if !blankRow(r) {
				snap.RawRows = append(snap.RawRows, r)
			}
		}
	}
	return snap
}

func checkMapping(m model.ColumnMapping, width int) error {
	if !m.HasMandatory() {
		return apperror.Validation("Columns for id, name and amount are required.")
	}
	for name, idx := range m.Indices() {
		if idx < 0 || idx >= width {
			return apperror.Validation(fmt.Sprintf("Column %d for %s does not exist; the table has %d columns.", idx+1, name, width))
		}
	}
	return nil
}

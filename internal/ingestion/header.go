package ingestion

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"debtapproval/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var aliasesYAML []byte

// Semantic column names, in claim order: most specific first.
const (
	ColAgentCode = "agent_code"
	ColBrand     = "brand"
	ColUnit      = "unit"
	ColAgent     = "agent"
	ColID        = "id"
	ColName      = "name"
	ColAmount    = "amount"
)

var claimOrder = []string{ColAgentCode, ColBrand, ColUnit, ColAgent, ColID, ColName, ColAmount}

// Aliases maps a semantic column to its normalized header aliases.
type Aliases map[string][]string

// LoadAliases parses an alias dictionary and normalizes every entry.
func LoadAliases(data []byte) (Aliases, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse header aliases: %w", err)
	}
	out := make(Aliases, len(raw))
	for col, list := range raw {
		if !slices.Contains(claimOrder, col) {
			return nil, fmt.Errorf("unknown column %q in header aliases", col)
		}
		for _, a := range list {
			if n := normalize(a); n != "" {
				out[col] = append(out[col], n)
			}
		}
	}
	for _, col := range []string{ColID, ColName, ColAmount} {
		if len(out[col]) == 0 {
			return nil, fmt.Errorf("header aliases: mandatory column %q has no aliases", col)
		}
	}
	return out, nil
}

// DefaultAliases returns the embedded dictionary.
func DefaultAliases() Aliases {
	a, err := LoadAliases(aliasesYAML)
	if err != nil {
		panic(err)
	}
	return a
}

// matches reports whether a normalized header cell names the column an alias stands for.
func (a Aliases) matches(col, header string) bool {
	if header == "" {
		return false
	}
	for _, alias := range a[col] {
		if utf8.RuneCountInString(alias) < 3 {
			if slices.Contains(strings.Fields(header), alias) {
				return true
			}
			continue
		}
		if strings.Contains(header, alias) {
			return true
		}
	}
	return false
}

// detectColumns claims header cells for each semantic column; a cell is claimed once.
func (a Aliases) detectColumns(row []string) model.ColumnMapping {
	normalized := make([]string, len(row))
	for i, c := range row {
		normalized[i] = normalize(c)
	}
	claimed := make([]bool, len(row))
	found := map[string]int{}
	for _, col := range claimOrder {
		for i, h := range normalized {
			if !claimed[i] && a.matches(col, h) {
				claimed[i] = true
				found[col] = i
				break
			}
		}
	}

	m := model.EmptyMapping()
	set := func(dst *int, col string) {
		if i, ok := found[col]; ok {
			*dst = i
		}
	}
	set(&m.AgentCode, ColAgentCode)
	set(&m.Brand, ColBrand)
	set(&m.Unit, ColUnit)
	set(&m.Agent, ColAgent)
	set(&m.ID, ColID)
	set(&m.Name, ColName)
	set(&m.Amount, ColAmount)
	return m
}

// detectHeader returns the first row within scan whose cells cover id, name and amount.
// When none does, row 0 is returned with ok=false and the caller must map columns by hand.
func (a Aliases) detectHeader(rows [][]string, scan int) (headerRow int, m model.ColumnMapping, ok bool) {
	for i := 0; i < len(rows) && i < scan; i++ {
		m = a.detectColumns(rows[i])
		if m.HasMandatory() {
			return i, m, true
		}
	}
	if len(rows) == 0 {
		return 0, model.EmptyMapping(), false
	}
	return 0, a.detectColumns(rows[0]), false
}

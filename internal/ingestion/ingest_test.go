package ingestion

import (
	"fmt"
	"testing"

	"debtapproval/internal/apperror"
	"debtapproval/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildXLSX(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		vals := make([]interface{}, len(r))
		for j, v := range r {
			vals[j] = v
		}
		require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+1), &vals))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFuzzyMatchExamples(t *testing.T) {
	assert.True(t, FuzzyMatch("Axmadjonov Mashxurbek (JSAN 2)", "Axmadjonov Mashxurbek"))
	assert.False(t, FuzzyMatch("Olmos Karimov", "Botir Aliyev"))
}

func TestFuzzyMatchStrategies(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"exact after fold", "  SAMARQAND ", "samarqand", true},
		{"containment", "Toshkent filiali", "toshkent", true},
		{"apostrophes", "Bo'ston", "Boston", true},
		{"parenthetical on both", "Karimov Olim (old)", "Karimov Olim (new)", true},
		{"token overlap", "Karimov Olim Botirovich", "Olim Karimov Botirovich", true},
		{"token overlap below ratio", "Karimov Olim Botirovich", "Karimov Sardor Aliyevich", false},
		{"short tokens ignored", "ab cd", "cd ab", false},
		{"empty", "", "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FuzzyMatch(tt.a, tt.b))
		})
	}
}

func TestFuzzyMatchSymmetricOnExactAndContainment(t *testing.T) {
	pairs := [][2]string{
		{"Axmadjonov Mashxurbek (JSAN 2)", "Axmadjonov Mashxurbek"},
		{"Toshkent", "toshkent shahar"},
		{"Olmos Karimov", "Botir Aliyev"},
		{"Brand (A)", "brand"},
	}
	for _, p := range pairs {
		assert.Equal(t, FuzzyMatch(p[0], p[1]), FuzzyMatch(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1 200,50", "1200.5", true},
		{"300", "300", true},
		{"1,200.50", "1200.5", true},
		{"1 000", "1000", true},
		{"2,500,000", "2500000", true},
		{"n/a", "0", false},
		{"", "0", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "%q -> %s", tt.in, got)
	}
}

func TestAggregateMixedSeparators(t *testing.T) {
	total := sumAmounts([][]string{{"1 200,50"}, {"300"}, {"oops"}}, 0)
	assert.True(t, decimal.RequireFromString("1500.5").Equal(total), total.String())
}

func TestProcessDetectsHeaderBelowTitle(t *testing.T) {
	data := buildXLSX(t, [][]string{
		{"Debt report March"},
		{"Period: 2026-03"},
		{"Client code", "Client name", "Agent", "Summa"},
		{"1001", "Olmos savdo", "Axmadjonov Mashxurbek (JSAN 2)", "1 200,50"},
		{"1002", "Baraka", "Axmadjonov Mashxurbek", "300"},
		{"1003", "Nur", "Botir Aliyev", "999"},
	})

	e := NewEngine(DefaultOptions())
	res, err := e.Process(data, "march.xlsx", model.MatchTarget{AgentName: "Axmadjonov Mashxurbek"})
	require.NoError(t, err)
	require.False(t, res.NeedsMapping)

	snap := res.Snapshot
	assert.Equal(t, 2, snap.HeaderRow)
	assert.Equal(t, 0, snap.Columns.ID)
	assert.Equal(t, 1, snap.Columns.Name)
	assert.Equal(t, 2, snap.Columns.Agent)
	assert.Equal(t, 3, snap.Columns.Amount)
	assert.Equal(t, model.NoColumn, snap.Columns.Brand)
	assert.Len(t, snap.RawRows, 3)
	assert.Len(t, snap.FilteredRows, 2)
	assert.True(t, decimal.RequireFromString("1500.5").Equal(snap.Total), snap.Total.String())
	assert.Equal(t, 3, res.Stats.TotalRows)
	assert.Equal(t, 2, res.Stats.MatchedRows)
	assert.Equal(t, []string{"Botir Aliyev"}, res.Stats.MismatchSamples[ColAgent])
	require.NoError(t, snap.Validate())
}

func TestProcessCSVSemicolonCyrillicHeaders(t *testing.T) {
	data := []byte("\xef\xbb\xbf№;Наименование;Бренд;Сумма\n1;ООО Альфа;Coca-Cola;100,25\n2;ИП Бета;Pepsi;50\n")

	res, err := NewEngine(DefaultOptions()).Process(data, "debts.CSV", model.MatchTarget{BrandName: "coca-cola"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Snapshot.Columns.Brand)
	assert.Len(t, res.Snapshot.FilteredRows, 1)
	assert.True(t, decimal.RequireFromString("100.25").Equal(res.Snapshot.Total))
}

func TestProcessNoFilterColumnKeepsAllRows(t *testing.T) {
	data := []byte("id,name,amount\n1,a,10\n2,b,20\n")
	res, err := NewEngine(DefaultOptions()).Process(data, "x.csv", model.MatchTarget{AgentName: "Someone"})
	require.NoError(t, err)
	assert.Len(t, res.Snapshot.FilteredRows, 2)
	assert.True(t, decimal.NewFromInt(30).Equal(res.Snapshot.Total))
}

func TestProcessZeroMatchesSurfacesSamples(t *testing.T) {
	rows := [][]string{{"ID", "Name", "SVR", "Amount"}}
	for i := 0; i < 8; i++ {
		rows = append(rows, []string{fmt.Sprint(i), "c", fmt.Sprintf("Agent %c", 'A'+i), "1"})
	}
	rows = append(rows, []string{"99", "c", "", "1"})

	res, err := NewEngine(DefaultOptions()).Process(buildXLSX(t, rows), "r.xlsx", model.MatchTarget{AgentName: "Olmos Karimov"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindSpreadsheetFormat))
	require.NotNil(t, res)
	assert.Empty(t, res.Snapshot.FilteredRows)
	assert.Len(t, res.Stats.MismatchSamples[ColAgent], 5)
	assert.Equal(t, 9, res.Stats.TotalRows)
	assert.NotNil(t, apperror.From(err).Details["mismatch_samples"])
}

func TestProcessAgentCodeIsExact(t *testing.T) {
	data := []byte("Agent code;Client id;Client name;Debt\nA-10;1;x;5\nA-100;2;y;7\n")
	res, err := NewEngine(DefaultOptions()).Process(data, "c.csv", model.MatchTarget{AgentCode: "a-10"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Snapshot.Columns.AgentCode)
	assert.Equal(t, 1, res.Snapshot.Columns.ID)
	require.Len(t, res.Snapshot.FilteredRows, 1)
	assert.Equal(t, "A-10", res.Snapshot.FilteredRows[0][0])
}

func TestProcessNeedsMappingThenManual(t *testing.T) {
	data := []byte("col1,col2,col3,col4\n1,Alpha,Karimov Olim,10\n2,Beta,Aliyev Botir,20\n")
	e := NewEngine(DefaultOptions())

	res, err := e.Process(data, "m.csv", model.MatchTarget{AgentName: "Karimov Olim"})
	require.NoError(t, err)
	assert.True(t, res.NeedsMapping)
	assert.Equal(t, 0, res.Snapshot.HeaderRow)
	assert.Len(t, res.Snapshot.RawRows, 2)

	mapping := model.EmptyMapping()
	mapping.ID, mapping.Name, mapping.Amount, mapping.Agent = 0, 1, 3, 2
	res, err = e.ProcessWithMapping(data, "m.csv", model.MatchTarget{AgentName: "Karimov Olim"}, mapping)
	require.NoError(t, err)
	assert.True(t, res.Snapshot.Manual)
	assert.Len(t, res.Snapshot.FilteredRows, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Snapshot.Total))

	bad := model.EmptyMapping()
	bad.ID, bad.Name, bad.Amount = 0, 1, 9
	_, err = e.ProcessWithMapping(data, "m.csv", model.MatchTarget{}, bad)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestProcessRejectsUnreadableInput(t *testing.T) {
	e := NewEngine(DefaultOptions())

	_, err := e.Process([]byte("garbage"), "report.pdf", model.MatchTarget{})
	assert.True(t, apperror.Is(err, apperror.KindSpreadsheetFormat))

	_, err = e.Process([]byte("not a zip"), "report.xlsx", model.MatchTarget{})
	assert.True(t, apperror.Is(err, apperror.KindSpreadsheetFormat))

	_, err = e.Process([]byte("id,name,amount\n"), "empty.csv", model.MatchTarget{})
	assert.True(t, apperror.Is(err, apperror.KindSpreadsheetFormat))
}

func TestReaggregateReproducesTotal(t *testing.T) {
	data := buildXLSX(t, [][]string{
		{"ID", "Name", "Brand", "Amount"},
		{"1", "a", "Coca-Cola (Tashkent)", "10,10"},
		{"2", "b", "Pepsi", "20"},
		{"3", "c", "Coca-Cola", "0,9"},
	})
	e := NewEngine(DefaultOptions())
	res, err := e.Process(data, "r.xlsx", model.MatchTarget{BrandName: "Coca-Cola"})
	require.NoError(t, err)

	stored := res.Snapshot
	raw, err := stored.Value()
	require.NoError(t, err)
	var decoded model.SpreadsheetSnapshot
	require.NoError(t, decoded.Scan(raw))

	decoded.FilteredRows, decoded.Total = nil, decimal.Zero
	again := e.Reaggregate(decoded)
	assert.True(t, stored.Total.Equal(again.Total), "%s vs %s", stored.Total, again.Total)
	assert.Equal(t, stored.FilteredRows, again.FilteredRows)
	assert.True(t, decimal.NewFromInt(11).Equal(again.Total))
}

func TestLoadAliasesRejectsUnknownColumn(t *testing.T) {
	_, err := LoadAliases([]byte("colour: [red]\n"))
	assert.Error(t, err)

	_, err = LoadAliases([]byte("id: [id]\nname: [name]\n"))
	assert.Error(t, err)
}

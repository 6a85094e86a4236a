package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/signalcore/evidence-engine/internal/model"
)

func sampleScores() []model.VendorScore {
	return []model.VendorScore{
		{
			Vendor:     model.Vendor{ID: "langfuse", Name: "Langfuse"},
			TotalScore: 8.25,
			Confidence: model.ConfidenceHigh,
			Scores: []model.Score{
				{VendorID: "langfuse", RequirementID: "self-hosting", Score: 10, Confidence: model.ConfidenceHigh, EvidenceCount: 3, FreshnessLevel: model.FreshnessFresh},
				{VendorID: "langfuse", RequirementID: "pricing", Score: 6.5, Confidence: model.ConfidenceMedium, EvidenceCount: 2, FreshnessLevel: model.FreshnessAging},
			},
		},
		{
			Vendor:     model.Vendor{ID: "posthog", Name: "PostHog"},
			TotalScore: 4,
			Confidence: model.ConfidenceLow,
			Scores: []model.Score{
				{VendorID: "posthog", RequirementID: "self-hosting", Score: 4, Confidence: model.ConfidenceLow, EvidenceCount: 1, FreshnessLevel: model.FreshnessStale},
			},
		},
	}
}

func TestParseWeights(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]float64
		wantErr string
	}{
		{name: "empty selects priority", raw: "", want: nil},
		{name: "single", raw: "pricing=2", want: map[string]float64{"pricing": 2}},
		{name: "spaces and zero", raw: " self-hosting = 5 , pricing=0 ", want: map[string]float64{"self-hosting": 5, "pricing": 0}},
		{name: "trailing comma", raw: "pricing=1.5,", want: map[string]float64{"pricing": 1.5}},
		{name: "missing value", raw: "pricing", wantErr: "invalid weight"},
		{name: "missing id", raw: "=3", wantErr: "invalid weight"},
		{name: "not a number", raw: "pricing=high", wantErr: "invalid weight for pricing"},
		{name: "negative", raw: "pricing=-1", wantErr: "must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWeights(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteScoreTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScoreTable(&buf, sampleScores()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Rank")
	assert.Contains(t, lines[1], "langfuse")
	assert.Contains(t, lines[1], "8.25")
	assert.Contains(t, lines[2], "posthog")
	assert.Contains(t, lines[2], "low")
}

func TestWriteScoreCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeScoreCSV(&buf, sampleScores()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, scoreCSVHeader, records[0])
	assert.Equal(t, []string{"1", "langfuse", "Langfuse", "8.25", "high", "self-hosting", "10.00", "high", "3", "fresh"}, records[1])
	assert.Equal(t, "2", records[3][0])
	assert.Equal(t, "stale", records[3][9])
}

func TestOutputScores_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.json")
	var stdout bytes.Buffer
	require.NoError(t, outputScores(&stdout, sampleScores(), "json", path))
	assert.Empty(t, stdout.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []model.VendorScore
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleScores(), got)
}

func TestOutputScores_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.xlsx")
	require.NoError(t, outputScores(nil, sampleScores(), "xlsx", path))

	file, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, file.Sheets, 2)

	ranking := file.Sheets[0]
	assert.Equal(t, "Ranking", ranking.Name)
	require.Len(t, ranking.Rows, 3)
	assert.Equal(t, "vendor_id", ranking.Rows[0].Cells[1].String())
	assert.Equal(t, "langfuse", ranking.Rows[1].Cells[1].String())
	assert.Equal(t, "posthog", ranking.Rows[2].Cells[1].String())

	detail := file.Sheets[1]
	assert.Equal(t, "Requirements", detail.Name)
	assert.Len(t, detail.Rows, 4)
}

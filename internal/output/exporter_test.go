package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pi-connector/internal/model"
)

var sample = []model.PostRecord{
	{ID: 1, BatchID: "b1", Mode: "batch", Tag: "Temp", WebID: "W1", Value: "21.5", Timestamp: "2024-01-01T00:00:00",
		Outcome: "ok", CreatedAt: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)},
	{ID: 2, BatchID: "b1", Mode: "batch", Tag: "Pump", WebID: "W2", Value: "1", Timestamp: "2024-01-01T00:00:00", Outcome: "ok"},
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(path, sample))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []model.PostRecord
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Temp", got[0].Tag)
	assert.Equal(t, "W2", got[1].WebID)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, sample))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "tag", rows[0][3])
	assert.Equal(t, []string{"1", "b1", "batch", "Temp", "", "W1", "21.5", "2024-01-01T00:00:00", "ok", "2024-01-01T00:00:01Z"}, rows[1])
	assert.Equal(t, "", rows[2][9])
}

func TestWriteBothAndUnknown(t *testing.T) {
	base := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, Write(base, "both", nil))
	assert.FileExists(t, base+".json")
	assert.FileExists(t, base+".csv")

	b, err := os.ReadFile(base + ".json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	assert.Error(t, Write(base, "xml", sample))
}

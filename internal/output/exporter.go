package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"pi-connector/internal/model"
)

// WriteJSON writes journal rows to a JSON file with pretty formatting.
func WriteJSON(path string, recs []model.PostRecord) error {
	if recs == nil {
		recs = []model.PostRecord{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes journal rows to a CSV file.
// Columns: id,batch_id,mode,tag,point_name,web_id,value,timestamp,outcome,created_at
func WriteCSV(path string, recs []model.PostRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"id", "batch_id", "mode", "tag", "point_name", "web_id", "value", "timestamp", "outcome", "created_at"}
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range recs {
		rec := []string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.BatchID,
			r.Mode,
			r.Tag,
			r.PointName,
			r.WebID,
			r.Value,
			r.Timestamp,
			r.Outcome,
			timeToRFC3339(r.CreatedAt),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// Write dispatches on format: json, csv, or both (path gets .json and .csv).
func Write(path, format string, recs []model.PostRecord) error {
	switch format {
	case "", "json":
		return WriteJSON(path, recs)
	case "csv":
		return WriteCSV(path, recs)
	case "both", "json+csv", "csv+json":
		if err := WriteJSON(path+".json", recs); err != nil {
			return err
		}
		return WriteCSV(path+".csv", recs)
	default:
		return fmt.Errorf("unknown export format %q (expected json, csv or both)", format)
	}
}

func timeToRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

package db

import (
	"context"
	"path/filepath"
	"testing"

	"pi-connector/internal/model"
	"pi-connector/internal/piwebapi"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal", "journal_test.sqlite")
	d, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func TestSavePostRecordsAndQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)
	d.BatchSize = 2

	recs := []model.PostRecord{
		{BatchID: "b1", Mode: "batch", Tag: "Temp", WebID: "W1", Value: "20", Timestamp: "2024-01-01T00:00:00", Outcome: "ok"},
		{BatchID: "b1", Mode: "batch", Tag: "Flow", WebID: "W2", Value: "3", Timestamp: "2024-01-01T00:00:00", Outcome: "ok"},
		{BatchID: "b1", Mode: "batch", Tag: "Temp", WebID: "W1", Value: "21", Timestamp: "2024-01-01T00:00:10", Outcome: "ok"},
		{BatchID: "b2", Mode: "batch", Tag: "Temp", WebID: "W1", Value: "22", Timestamp: "2024-01-01T00:00:20", Outcome: "send_failed"},
	}
	if err := d.SavePostRecords(ctx, recs); err != nil {
		t.Fatalf("SavePostRecords failed: %v", err)
	}

	all, err := d.RecentPosts(ctx, "", 0)
	if err != nil {
		t.Fatalf("RecentPosts failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(all))
	}
	if all[0].Value != "22" {
		t.Fatalf("expected newest row first, got value %q", all[0].Value)
	}

	temp, err := d.RecentPosts(ctx, "Temp", 2)
	if err != nil {
		t.Fatalf("RecentPosts(tag) failed: %v", err)
	}
	if len(temp) != 2 || temp[0].Tag != "Temp" || temp[1].Value != "21" {
		t.Fatalf("unexpected tag rows: %+v", temp)
	}

	counts, err := d.OutcomeCounts(ctx)
	if err != nil {
		t.Fatalf("OutcomeCounts failed: %v", err)
	}
	if counts["ok"] != 3 || counts["send_failed"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	latest, err := d.LatestValues(ctx)
	if err != nil {
		t.Fatalf("LatestValues failed: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 latest rows, got %d", len(latest))
	}
	// failed posts do not move the latest value
	if latest[1].Tag != "Temp" || latest[1].Value != "21" {
		t.Fatalf("unexpected latest for Temp: %+v", latest[1])
	}
}

func TestLatestValuesAreReplaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	for _, v := range []string{"1", "2"} {
		rec := []model.PostRecord{{Tag: "A", WebID: "WA", Value: v, Outcome: "ok"}}
		if err := d.SavePostRecords(ctx, rec); err != nil {
			t.Fatalf("SavePostRecords failed: %v", err)
		}
	}
	latest, err := d.LatestValues(ctx)
	if err != nil {
		t.Fatalf("LatestValues failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Value != "2" {
		t.Fatalf("unexpected latest rows: %+v", latest)
	}
}

func TestEventRecorderJournalsTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	rec := &EventRecorder{DB: d, Device: "flexy1"}
	rec.ConnectionChanged(false, piwebapi.KindTransportDown)
	rec.ConnectionChanged(true, piwebapi.KindOK)

	evs, err := d.ConnectionEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ConnectionEvents failed: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if !evs[0].Connected || evs[1].Connected {
		t.Fatalf("unexpected event order: %+v", evs)
	}
	if evs[1].Cause != piwebapi.KindTransportDown.String() || evs[1].Device != "flexy1" {
		t.Fatalf("unexpected event: %+v", evs[1])
	}

	one, err := d.ConnectionEvents(ctx, 1)
	if err != nil {
		t.Fatalf("ConnectionEvents failed: %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(one))
	}
}

func TestSaveTagsUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	if err := d.SaveTags(ctx, []model.TagRecord{{Name: "B", WebID: "W1"}, {Name: "A", WebID: "W2"}}); err != nil {
		t.Fatalf("SaveTags failed: %v", err)
	}
	if err := d.SaveTags(ctx, []model.TagRecord{{Name: "B", WebID: "W3", PointName: "B-flexy1"}}); err != nil {
		t.Fatalf("SaveTags update failed: %v", err)
	}
	tags, err := d.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags failed: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "A" || tags[1].WebID != "W3" || tags[1].PointName != "B-flexy1" {
		t.Fatalf("unexpected tags: %+v", tags)
	}
	if err := d.SaveTags(ctx, nil); err != nil {
		t.Fatalf("SaveTags(nil) failed: %v", err)
	}
}

package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"pi-connector/internal/model"
)

// DefaultBatchSize is the number of rows written per insert statement.
const DefaultBatchSize = 200

// DB wraps the journal sqlite connection
type DB struct {
	ORM       *gorm.DB
	BatchSize int
}

// Open opens the SQLite database using GORM and runs migrations.
// The parent directory is created when missing.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g, BatchSize: DefaultBatchSize}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// SavePostRecords journals posted samples. Samples with outcome "ok" also
// replace the latest value of their tag.
func (d *DB) SavePostRecords(ctx context.Context, recs []model.PostRecord) error {
	if len(recs) == 0 {
		return nil
	}
	size := d.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return d.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertPostRecords(ctx, tx, recs, size); err != nil {
			return fmt.Errorf("insert post records: %w", err)
		}
		latest := make(map[string]model.LatestTagValue)
		var order []string
		now := time.Now()
		for _, r := range recs {
			if r.Outcome != "ok" {
				continue
			}
			if _, ok := latest[r.Tag]; !ok {
				order = append(order, r.Tag)
			}
			latest[r.Tag] = model.LatestTagValue{Tag: r.Tag, WebID: r.WebID, Value: r.Value, Timestamp: r.Timestamp, UpdatedAt: now}
		}
		if len(order) == 0 {
			return nil
		}
		rows := make([]model.LatestTagValue, 0, len(order))
		for _, tag := range order {
			rows = append(rows, latest[tag])
		}
		return upsertLatest(ctx, tx, rows)
	})
}

// RecentPosts returns the newest journal rows first, optionally for one tag.
// limit <= 0 returns every row.
func (d *DB) RecentPosts(ctx context.Context, tag string, limit int) ([]model.PostRecord, error) {
	q := d.ORM.WithContext(ctx).Order("id DESC")
	if tag != "" {
		q = q.Where("tag = ?", tag)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.PostRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveConnectionEvent journals a connection transition.
func (d *DB) SaveConnectionEvent(ctx context.Context, ev *model.ConnectionEvent) error {
	return insertEvent(ctx, d.ORM, ev)
}

// ConnectionEvents returns the newest connection transitions first.
func (d *DB) ConnectionEvents(ctx context.Context, limit int) ([]model.ConnectionEvent, error) {
	q := d.ORM.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.ConnectionEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// OutcomeCounts returns the number of journal rows per outcome.
func (d *DB) OutcomeCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		N       int64
	}
	err := d.ORM.WithContext(ctx).
		Model(&model.PostRecord{}).
		Select("outcome, COUNT(*) as n").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

// LatestValues returns the last successfully posted value of each tag.
func (d *DB) LatestValues(ctx context.Context) ([]model.LatestTagValue, error) {
	var rows []model.LatestTagValue
	if err := d.ORM.WithContext(ctx).Order("tag").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveTags records provisioned tags and their WebIDs.
func (d *DB) SaveTags(ctx context.Context, tags []model.TagRecord) error {
	if len(tags) == 0 {
		return nil
	}
	return upsertTags(ctx, d.ORM, tags)
}

// Tags returns every provisioned tag ordered by name.
func (d *DB) Tags(ctx context.Context) ([]model.TagRecord, error) {
	var rows []model.TagRecord
	if err := d.ORM.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

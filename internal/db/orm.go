package db

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"pi-connector/internal/model"
)

// openORM opens a GORM SQLite connection with sane defaults.
func openORM(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(&model.PostRecord{}, &model.ConnectionEvent{}, &model.LatestTagValue{}, &model.TagRecord{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// insertPostRecords persists rows in chunks of batchSize.
func insertPostRecords(ctx context.Context, db *gorm.DB, recs []model.PostRecord, batchSize int) error {
	return db.WithContext(ctx).CreateInBatches(recs, batchSize).Error
}

// upsertLatest replaces the latest value rows of the given tags.
func upsertLatest(ctx context.Context, db *gorm.DB, rows []model.LatestTagValue) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tag"}},
		DoUpdates: clause.AssignmentColumns([]string{"web_id", "value", "timestamp", "updated_at"}),
	}).Create(&rows).Error
}

// upsertTags inserts or updates provisioned tag definitions.
func upsertTags(ctx context.Context, db *gorm.DB, tags []model.TagRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data_type", "point_name", "web_id", "resolved_at"}),
	}).Create(&tags).Error
}

// insertEvent persists one connection transition.
func insertEvent(ctx context.Context, db *gorm.DB, ev *model.ConnectionEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return db.WithContext(ctx).Create(ev).Error
}

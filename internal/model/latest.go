package model

import "time"

// LatestTagValue keeps the last value successfully posted for each tag.
// Table: latest_tag_values
type LatestTagValue struct {
	Tag       string    `gorm:"column:tag;primaryKey" json:"tag"`
	WebID     string    `gorm:"column:web_id" json:"web_id"`
	Value     string    `gorm:"column:value" json:"value"`
	Timestamp string    `gorm:"column:timestamp" json:"timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (LatestTagValue) TableName() string { return "latest_tag_values" }

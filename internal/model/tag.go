package model

import "time"

// TagRecord is a provisioned tag: the PI point it maps to and its WebID.
// Table: tags
type TagRecord struct {
	Name       string    `gorm:"column:name;primaryKey" json:"name"`
	DataType   string    `gorm:"column:data_type" json:"data_type"`
	PointName  string    `gorm:"column:point_name" json:"point_name"`
	WebID      string    `gorm:"column:web_id" json:"web_id"`
	ResolvedAt time.Time `gorm:"column:resolved_at" json:"resolved_at"`
}

func (TagRecord) TableName() string { return "tags" }

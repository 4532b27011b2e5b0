package model

import "time"

// PostRecord is one value handed to the PI Web API, with the outcome of the
// request that carried it. Rows of one batch request share BatchID.
// Table: post_records
type PostRecord struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BatchID   string    `gorm:"column:batch_id;index" json:"batch_id"`
	Mode      string    `gorm:"column:mode" json:"mode"`
	Tag       string    `gorm:"column:tag;index" json:"tag"`
	PointName string    `gorm:"column:point_name" json:"point_name"`
	WebID     string    `gorm:"column:web_id" json:"web_id"`
	Value     string    `gorm:"column:value" json:"value"`
	Timestamp string    `gorm:"column:timestamp" json:"timestamp"`
	Outcome   string    `gorm:"column:outcome;index" json:"outcome"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (PostRecord) TableName() string { return "post_records" }

// ConnectionEvent records a transition of the PI server connection state.
// Table: connection_events
type ConnectionEvent struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Device    string    `gorm:"column:device" json:"device"`
	Connected bool      `gorm:"column:connected" json:"connected"`
	Cause     string    `gorm:"column:cause" json:"cause"`
	At        time.Time `gorm:"column:at;index" json:"at"`
}

func (ConnectionEvent) TableName() string { return "connection_events" }

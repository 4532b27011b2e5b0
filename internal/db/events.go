package db

import (
	"context"
	"log/slog"
	"time"

	"pi-connector/internal/model"
	"pi-connector/internal/piwebapi"
)

// EventRecorder journals connection transitions reported by a PI session.
type EventRecorder struct {
	DB     *DB
	Device string
	Logger *slog.Logger
}

func (r *EventRecorder) RequestDone(string, piwebapi.Kind, time.Duration) {}

func (r *EventRecorder) ConnectionChanged(connected bool, cause piwebapi.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev := &model.ConnectionEvent{Device: r.Device, Connected: connected, Cause: cause.String(), At: time.Now()}
	if err := r.DB.SaveConnectionEvent(ctx, ev); err != nil && r.Logger != nil {
		r.Logger.Error("journal connection event", "err", err)
	}
}

package telemetry

import (
	"time"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// PointWriter is the write side of *influxdb.Client.
type PointWriter interface {
	WriteAuthEvent(op, outcome string, userID int64, took time.Duration, at time.Time)
	WriteSweep(outcome string, removed int64, took time.Duration, at time.Time)
}

// InfluxRecorder writes one point per event. Writes are batched by the
// client and never block.
type InfluxRecorder struct {
	w PointWriter
}

// NewInfluxRecorder returns a recorder writing through w.
func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{w: w}
}

// Record implements auth.Recorder.
func (r *InfluxRecorder) Record(e auth.Event) {
	if e.Op == auth.OpSweep {
		r.w.WriteSweep(e.Outcome, e.Removed, e.Took, e.At)
		return
	}
	r.w.WriteAuthEvent(e.Op, e.Outcome, e.UserID, e.Took, e.At)
}

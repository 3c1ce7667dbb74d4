package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAuthEvents  = "auth_events"
	MeasurementTokenSweeps = "token_sweeps"
)

// WriteAuthEvent records one completed auth operation. userID is omitted
// when zero.
func (c *Client) WriteAuthEvent(op, outcome string, userID int64, took time.Duration, at time.Time) {
	fields := map[string]any{
		"duration_seconds": took.Seconds(),
	}
	if userID != 0 {
		fields["user_id"] = userID
	}

	c.WritePointWithTime(MeasurementAuthEvents,
		map[string]string{"op": op, "outcome": outcome},
		fields,
		at,
	)
}

// WriteSweep records one reaper cycle.
func (c *Client) WriteSweep(outcome string, removed int64, took time.Duration, at time.Time) {
	c.WritePointWithTime(MeasurementTokenSweeps,
		map[string]string{"outcome": outcome},
		map[string]any{
			"removed":          removed,
			"duration_seconds": took.Seconds(),
		},
		at,
	)
}

// WritePointWithTime writes a custom point. Writes on a closed client are
// dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

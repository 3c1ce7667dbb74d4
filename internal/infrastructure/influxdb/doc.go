// Package influxdb writes auth telemetry to InfluxDB v2.
//
// Measurements:
//
//	auth_events   tags op, outcome      fields duration_seconds, user_id
//	token_sweeps  tags outcome          fields removed, duration_seconds
//
// Points are batched (batch_size, flush_interval) and written
// asynchronously. Batch failures go to the SetOnError callback; Connect
// and HealthCheck return theirs directly.
package influxdb

// Package telemetry turns auth events into metrics.
//
// Recorders implement auth.Recorder and are combined with Multi:
//
//	rec := telemetry.Multi{
//	    prom,                              // Prometheus counters and histograms
//	    telemetry.NewInfluxRecorder(influx), // InfluxDB points
//	    audit.NewRecorder(auditRepo, logger), // persisted audit log
//	}
//
// Recorders never block or fail the operation they observe.
package telemetry

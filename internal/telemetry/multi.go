package telemetry

import "github.com/nerrad567/tempsys-core/internal/auth"

// Multi fans an event out to every recorder in order. Nil entries are skipped.
type Multi []auth.Recorder

// Record implements auth.Recorder.
func (m Multi) Record(e auth.Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

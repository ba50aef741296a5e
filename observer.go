package bigeo

import (
	"context"
	"log/slog"
)

// EventKind classifies pipeline progress events.
type EventKind int

// Event kinds in the order a run emits them.
const (
	EventDiscovered EventKind = iota // Path found in the source directory
	EventReading                     // Path opened for reading
	EventWriting                     // Dest created
	EventWarning                     // Message describes a recoverable condition
	EventFeature                     // Feature written
	EventDone                        // Count features written to Dest
)

var eventNames = [...]string{"discovered", "reading", "writing", "warning", "feature", "done"}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event reports pipeline progress. Fields not relevant to Kind are zero.
type Event struct {
	Kind    EventKind
	Op      Operation
	Path    string
	Dest    string
	Driver  string
	CRS     string
	Feature int
	Count   int
	Message string
}

// Observer receives progress events. Observers are called synchronously
// from the running pipeline.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// LogObserver writes events to l. Per-feature events are logged at debug
// level.
func LogObserver(l *slog.Logger) Observer {
	return ObserverFunc(func(e Event) {
		op := slog.String("operation", e.Op.String())
		switch e.Kind {
		case EventDiscovered:
			l.Info("dataset found", op, slog.String("path", e.Path))
		case EventReading:
			l.Info("reading dataset", op, slog.String("path", e.Path),
				slog.String("driver", e.Driver), slog.String("crs", e.CRS))
		case EventWriting:
			msg := "writing dataset"
			if e.Op == Reproject {
				msg = "writing reprojected dataset"
			}
			l.Info(msg, op, slog.String("dest", e.Dest),
				slog.String("driver", e.Driver), slog.String("crs", e.CRS))
		case EventWarning:
			l.Warn(e.Message, op, slog.String("path", e.Path))
		case EventFeature:
			if l.Enabled(context.Background(), slog.LevelDebug) {
				l.Debug("feature written", op, slog.String("dest", e.Dest), slog.Int("feature", e.Feature))
			}
		case EventDone:
			l.Info("dataset complete", op, slog.String("path", e.Path),
				slog.String("dest", e.Dest), slog.Int("features", e.Count))
		}
	})
}

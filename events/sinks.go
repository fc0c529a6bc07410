package events

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// LogSink writes every event as a structured logrus entry. Grounded in the
// teacher's habit of treating its own event bus as a dual log+metrics
// fan-out rather than a single-purpose pub/sub.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Write(e interface{}) error {
	evt, ok := e.(Event)
	if !ok {
		return fmt.Errorf("events: log sink received non-Event %T", e)
	}
	entry := s.log.WithField("event", string(evt.Type)).WithField("correlation_id", evt.CorrelationID)
	for k, v := range evt.Fields {
		entry = entry.WithField(k, v)
	}
	entry.Debug("build event")
	return nil
}

func (s *LogSink) Close() error { return nil }

// MetricsSink increments prometheus counters per event type, labeled by
// correlation id's target/action shape being intentionally excluded (it is
// high-cardinality); only the event type is a label.
type MetricsSink struct {
	counter *prometheus.CounterVec
}

func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "builder",
		Subsystem: "events",
		Name:      "total",
		Help:      "Count of build events by type.",
	}, []string{"type"})
	if reg != nil {
		if err := reg.Register(counter); err != nil {
			return nil, err
		}
	}
	return &MetricsSink{counter: counter}, nil
}

func (s *MetricsSink) Write(e interface{}) error {
	evt, ok := e.(Event)
	if !ok {
		return fmt.Errorf("events: metrics sink received non-Event %T", e)
	}
	s.counter.WithLabelValues(string(evt.Type)).Inc()
	return nil
}

func (s *MetricsSink) Close() error { return nil }

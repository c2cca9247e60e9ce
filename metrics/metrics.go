// Package metrics defines the operational-metrics contract used by
// go-surgekit components, plus ready-made recorders.
//
// The Recorder interface is deliberately tiny (a counter and an
// observation) so any metrics system can be plugged in. Noop is the default;
// Prometheus is provided for production use.
package metrics

// Recorder receives operational metrics from the rate limiter and
// middleware. Implementations must be safe for concurrent use.
type Recorder interface {
	// Add increments the named counter by value.
	Add(name string, value float64, tags map[string]string)
	// Observe records one sample of the named distribution, e.g. a latency
	// in seconds.
	Observe(name string, value float64, tags map[string]string)
}

// Noop is a Recorder that does nothing. It keeps hot paths free of nil
// checks when no metrics backend is configured.
type Noop struct{}

func (Noop) Add(name string, value float64, tags map[string]string)     {}
func (Noop) Observe(name string, value float64, tags map[string]string) {}

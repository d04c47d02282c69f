package happyeyeballs

import (
	"go.uber.org/zap"

	"github.com/PayRpc/happyeyeballs/internal/metrics"
)

var logger *zap.Logger // nil means disabled; checked at each call site

// SetLogger wires a structured logger for race engine diagnostics. Pass
// nil to disable logging (the default). Like Enabled and Cache, this is
// process-wide mutable state with no internal synchronization — set it
// once during startup.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Metrics returns the package's Prometheus collectors, unregistered by
// default. A caller that wants these series exposed registers them with
// its own registry, e.g. Metrics().MustRegister(prometheus.DefaultRegisterer).
func Metrics() *metrics.Collectors {
	return metrics.Default()
}

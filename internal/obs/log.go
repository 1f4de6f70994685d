// Package obs holds the ambient observability stack shared across
// components: structured logging, Prometheus metrics, and the
// per-component health tracker backing /healthz.
package obs

import "go.uber.org/zap"

// NewLogger builds the process-wide logger. dev selects human-readable
// console encoding; production (the default) emits structured JSON.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	return cfg.Build()
}

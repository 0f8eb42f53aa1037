package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// PushConfig selects the Pushgateway that receives run metrics. An empty URL
// disables pushing.
type PushConfig struct {
	URL string
	Job string
}

// FlushTelemetry flushes telemetry before process exit. The process does not
// live long enough to be scraped, so metrics are pushed to the Pushgateway
// when one is configured; logs are synced last.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, cfg PushConfig) error {
	var pushErr error
	if cfg.URL != "" {
		job := cfg.Job
		if job == "" {
			job = "weather_report"
		}
		if err := push.New(cfg.URL, job).Gatherer(registry).PushContext(ctx); err != nil {
			pushErr = fmt.Errorf("push metrics: %w", err)
		} else if logger != nil {
			logger.Debug("metrics pushed", zap.String("pushgateway", cfg.URL), zap.String("job", job))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil && pushErr == nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	return pushErr
}

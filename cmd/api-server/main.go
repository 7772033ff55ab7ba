// Command api-server serves the pickup ordering API: browsing goods and
// slots, validating coupons and placing orders.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	pickup "github.com/xenking/fresh-pickup/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := pickup.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "config")
		}
		lg.Info("Configuration loaded",
			zap.String("store", cfg.Store),
			zap.String("timezone", cfg.Timezone),
			zap.String("stock_policy", cfg.Ordering.StockPolicy),
			zap.String("notify_queue", cfg.Notify.Queue),
		)
		return pickup.Run(ctx, lg.Named("pickup"), m, cfg)
	})
}

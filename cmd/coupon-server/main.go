// Command coupon-server serves the storefront discount engine over HTTP:
// shopper-facing validation and auto-apply endpoints plus the key-guarded
// admin surface.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/taazabazar/coupon-engine/internal/app"
)

func main() {
	app.Run(run)
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
	cfg, err := appkg.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	lg.Info("starting coupon engine", zap.String("addr", cfg.Addr))
	return appkg.Run(ctx, lg, m, cfg)
}

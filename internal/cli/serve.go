package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"possale/m/internal/api"
	"possale/m/internal/sale"
	"possale/m/internal/seed"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.cfg.CatalogPath != "" {
				stats, err := seed.LoadCatalog(ctx, rt.db, rt.cfg.CatalogPath)
				if err != nil {
					rt.log.Warn("unable to load catalog", zap.String("path", rt.cfg.CatalogPath), zap.Error(err))
				} else {
					rt.log.Info("seeded catalog", zap.Int("ingredients", stats.Ingredients),
						zap.Int("products", stats.Products), zap.Int("recipes", stats.Recipes))
				}
			}

			engine := sale.NewEngine(rt.db, rt.fees, rt.log,
				sale.WithTimeout(rt.cfg.SaleTimeout), sale.WithLockTimeout(rt.cfg.LockTimeout))
			handler := api.New(rt.db, rt.cfg.Secret, engine, rt.log)

			srv := &http.Server{Addr: ":" + rt.cfg.HTTPPort, Handler: handler.Router(), ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			rt.log.Info("POS server starting", zap.String("port", rt.cfg.HTTPPort), zap.String("driver", rt.cfg.DatabaseDriver))

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

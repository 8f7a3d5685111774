package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"possale/m/internal/config"
	"possale/m/internal/database"
	"possale/m/internal/fee"
	"possale/m/internal/logger"
	"possale/m/internal/migrations"
)

// NewRootCommand creates the root command of the possale CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "possale",
		Short:         "Point-of-sale transaction service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewSeedCommand())
	cmd.AddCommand(NewFeesCommand())
	cmd.AddCommand(NewSellCommand())
	cmd.AddCommand(NewTokenCommand())

	return cmd
}

// appEnv holds what every command needs, built from the environment.
type appEnv struct {
	cfg  config.Config
	log  *zap.Logger
	db   *sqlx.DB
	fees *fee.Table
}

func (rt *appEnv) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
	_ = rt.log.Sync()
}

// setup loads config and logger and, if withDB is set, connects and
// migrates the database.
func setup(ctx context.Context, withDB bool) (*appEnv, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt := &appEnv{cfg: cfg, log: log}

	rt.fees, err = fee.LoadFile(cfg.FeeRulesPath)
	if err != nil {
		return nil, err
	}
	if !withDB {
		return rt, nil
	}
	rt.db, err = database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(ctx, rt.db); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

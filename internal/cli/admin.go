package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"possale/m/internal/api"
	"possale/m/internal/config"
	"possale/m/internal/seed"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func NewSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load ingredients, products and recipes from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			stats, err := seed.LoadCatalog(cmd.Context(), rt.db, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d ingredients, %d products, %d recipes\n",
				stats.Ingredients, stats.Products, stats.Recipes)
			return nil
		},
	}
}

func NewFeesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Print the effective payment fee table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, m := range rt.fees.Methods() {
				r, _ := rt.fees.Rule(m)
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", m, r)
			}
			return nil
		},
	}
}

func NewTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a development bearer token with SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			token, err := api.IssueToken(config.Load().Secret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

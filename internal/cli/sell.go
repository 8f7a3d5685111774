package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"possale/m/domain"
	"possale/m/internal/sale"
)

// parseItem reads a cart line written as id:type:quantity:unit_price.
func parseItem(raw string) (domain.CartItem, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return domain.CartItem{}, fmt.Errorf("item %q: want id:type:quantity:unit_price", raw)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("item %q: bad id: %w", raw, err)
	}
	qty, err := decimal.NewFromString(parts[2])
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("item %q: bad quantity: %w", raw, err)
	}
	price, err := decimal.NewFromString(parts[3])
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("item %q: bad unit price: %w", raw, err)
	}
	return domain.CartItem{ID: id, ItemType: parts[1], Quantity: qty, UnitPrice: price}, nil
}

func NewSellCommand() *cobra.Command {
	var (
		sessionID int64
		method    string
		items     []string
		attempts  uint
	)
	cmd := &cobra.Command{
		Use:     "sell",
		Short:   "Process one sale against the configured database",
		Example: "  possale sell --session 1 --method cash --item 3:recipe:2:42.00 --item 1:resale:1:5.00",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attempts < 1 {
				return fmt.Errorf("--attempts must be at least 1")
			}
			req := sale.Request{SessionID: sessionID, PaymentMethod: method}
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}

			rt, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			engine := sale.NewEngine(rt.db, rt.fees, rt.log,
				sale.WithTimeout(rt.cfg.SaleTimeout), sale.WithLockTimeout(rt.cfg.LockTimeout))
			res, err := engine.ProcessSaleRetrying(cmd.Context(), req, attempts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "open cash session id")
	cmd.Flags().StringVar(&method, "method", "cash", "payment method")
	cmd.Flags().StringArrayVar(&items, "item", nil, "cart line id:type:quantity:unit_price (repeatable)")
	cmd.Flags().UintVar(&attempts, "attempts", 3, "attempts on lock contention")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

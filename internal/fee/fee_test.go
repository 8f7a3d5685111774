package fee

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(map[string]Rule{
		"cash":        None(),
		"voucher":     Flat(d("2.50")),
		"credit_card": Percent(d("3.5")),
	})
	require.NoError(t, err)
	return tbl
}

func TestCompute(t *testing.T) {
	tbl := testTable(t)
	tests := []struct {
		method  string
		gross   string
		wantFee string
		wantNet string
	}{
		{"cash", "115", "0", "115"},
		{"voucher", "115", "2.5", "112.5"},
		{"credit_card", "100", "3.5", "96.5"},
		{"credit_card", "10.10", "0.35", "9.75"},
		{"credit_card", "0", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.gross, func(t *testing.T) {
			fee, net, err := tbl.Compute(tt.method, d(tt.gross))
			require.NoError(t, err)
			assert.True(t, fee.Equal(d(tt.wantFee)), "fee = %s", fee)
			assert.True(t, net.Equal(d(tt.wantNet)), "net = %s", net)
			assert.True(t, net.Equal(d(tt.gross).Sub(fee)))
		})
	}
}

func TestComputeUnknownMethod(t *testing.T) {
	_, _, err := testTable(t).Compute("bitcoin", d("10"))
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestComputeFlatFeeAboveGrossIsConfigurationError(t *testing.T) {
	_, _, err := testTable(t).Compute("voucher", d("1.00"))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "voucher", cfgErr.Method)
}

func TestNewTableRejectsInvalidRules(t *testing.T) {
	for name, r := range map[string]Rule{
		"negative flat": Flat(d("-1")),
		"rate over 100": Percent(d("101")),
		"unknown kind":  {Kind: "tiered"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(map[string]Rule{"m": r})
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestDefaultKnowsOnlyCash(t *testing.T) {
	tbl := Default()
	assert.Equal(t, []string{"cash"}, tbl.Methods())
	fee, net, err := tbl.Compute("cash", d("42"))
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
	assert.True(t, net.Equal(d("42")))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
methods:
  cash: {kind: none}
  pix: {}
  debit_card: {kind: percent, rate: "1.99"}
  voucher: {kind: flat, amount: "2.50"}
`), 0o600))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cash", "debit_card", "pix", "voucher"}, tbl.Methods())

	r, ok := tbl.Rule("voucher")
	require.True(t, ok)
	assert.Equal(t, KindFlat, r.Kind)
	assert.True(t, r.Amount.Equal(d("2.5")))

	r, _ = tbl.Rule("pix")
	assert.Equal(t, KindNone, r.Kind)
}

func TestParseRejectsBadNumbers(t *testing.T) {
	_, err := Parse([]byte("methods:\n  card: {kind: percent, rate: lots}\n"))
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadFileEmptyPath(t *testing.T) {
	tbl, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"cash"}, tbl.Methods())
}

// Package fee computes payment-processing fees from a configured rule table.
package fee

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Kind discriminates the fee rule variants.
type Kind string

const (
	KindNone    Kind = "none"
	KindFlat    Kind = "flat"
	KindPercent Kind = "percent"
)

var hundred = decimal.NewFromInt(100)

// ErrUnknownMethod is returned for payment methods missing from the table.
var ErrUnknownMethod = errors.New("unknown payment method")

// ConfigurationError reports a rule that cannot satisfy 0 <= fee <= gross.
// It is a deployment defect, never a per-sale condition.
type ConfigurationError struct {
	Method string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("fee configuration for %q: %s", e.Method, e.Reason)
}

// Rule is a single fee policy. Amount is used by flat rules, Rate (in
// percent) by percent rules.
type Rule struct {
	Kind   Kind
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

func None() Rule                        { return Rule{Kind: KindNone} }
func Flat(amount decimal.Decimal) Rule  { return Rule{Kind: KindFlat, Amount: amount} }
func Percent(rate decimal.Decimal) Rule { return Rule{Kind: KindPercent, Rate: rate} }

func (r Rule) String() string {
	switch r.Kind {
	case KindFlat:
		return "flat " + r.Amount.StringFixed(2)
	case KindPercent:
		return r.Rate.String() + "%"
	default:
		return "none"
	}
}

func (r Rule) validate(method string) error {
	switch r.Kind {
	case KindNone:
		return nil
	case KindFlat:
		if r.Amount.IsNegative() {
			return &ConfigurationError{Method: method, Reason: "flat amount is negative"}
		}
		return nil
	case KindPercent:
		if r.Rate.IsNegative() || r.Rate.GreaterThan(hundred) {
			return &ConfigurationError{Method: method, Reason: "percent rate outside 0..100"}
		}
		return nil
	default:
		return &ConfigurationError{Method: method, Reason: fmt.Sprintf("unknown rule kind %q", r.Kind)}
	}
}

// Table maps payment-method identifiers to fee rules. A Table is read-only
// once built and safe for concurrent use.
type Table struct {
	rules map[string]Rule
}

// Default is the built-in table: cash carries no fee and every other method
// must be configured.
func Default() *Table {
	return &Table{rules: map[string]Rule{"cash": None()}}
}

// NewTable validates rules and builds a table from them.
func NewTable(rules map[string]Rule) (*Table, error) {
	t := &Table{rules: make(map[string]Rule, len(rules))}
	for method, r := range rules {
		if method == "" {
			return nil, &ConfigurationError{Method: method, Reason: "empty payment method"}
		}
		if err := r.validate(method); err != nil {
			return nil, err
		}
		t.rules[method] = r
	}
	return t, nil
}

// Rule returns the rule configured for method.
func (t *Table) Rule(method string) (Rule, bool) {
	r, ok := t.rules[method]
	return r, ok
}

// Methods lists the configured payment methods in sorted order.
func (t *Table) Methods() []string {
	out := make([]string, 0, len(t.rules))
	for m := range t.rules {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Compute returns the fee and net amount for a gross sale total. Percent
// fees are rounded to cents. net is always gross - fee.
func (t *Table) Compute(method string, gross decimal.Decimal) (fee, net decimal.Decimal, err error) {
	r, ok := t.rules[method]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	switch r.Kind {
	case KindFlat:
		fee = r.Amount
	case KindPercent:
		fee = gross.Mul(r.Rate).Div(hundred).Round(2)
	default:
		fee = decimal.Zero
	}
	if fee.IsNegative() || fee.GreaterThan(gross) {
		return decimal.Zero, decimal.Zero, &ConfigurationError{
			Method: method,
			Reason: fmt.Sprintf("fee %s outside 0..%s", fee.StringFixed(2), gross.StringFixed(2)),
		}
	}
	return fee, gross.Sub(fee), nil
}

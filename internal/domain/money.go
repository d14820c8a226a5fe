package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders an amount as the canonical two-decimal string used for
// amount comparison and provider wire formatting. All commit-time equality
// checks compare these strings byte for byte.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ParseAmount parses a submitted decimal amount string.
func ParseAmount(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse amount %q: %w", trimmed, err)
	}
	return amount, nil
}

// MinorUnits converts an already-rounded display amount to the integer
// minor-unit wire form some providers expect. This is a formatting operation on
// the formatted string, not numeric multiplication: "553.47" becomes "55347".
func MinorUnits(formatted string) string {
	return strings.Replace(formatted, ".", "", 1)
}

// DisplayAmount renders an amount with the store's currency symbol in the
// store's locale, for human-facing messages and notifications.
func DisplayAmount(store MerchantStore, amount decimal.Decimal) string {
	tag, err := language.Parse(store.LanguageCode)
	if err != nil {
		tag = language.English
	}
	unit, err := currency.ParseISO(store.CurrencyCode)
	if err != nil {
		return FormatAmount(amount)
	}
	value, _ := amount.Float64()
	printer := message.NewPrinter(tag)
	return printer.Sprintf("%v", currency.NarrowSymbol(unit.Amount(value)))
}

package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseMoney reads an amount typed by an operator or sent by the backend.
// Comma decimals are accepted; anything unreadable is zero.
func ParseMoney(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	d, err := decimal.NewFromString(SanitizeDecimalInput(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SanitizeDecimalInput keeps digits and the first decimal separator.
func SanitizeDecimalInput(s string) string {
	var b strings.Builder
	seenDot := false
	for _, r := range strings.ReplaceAll(s, ",", ".") {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !seenDot:
			seenDot = true
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, ".") {
		out = "0" + out
	}
	return strings.TrimSuffix(out, ".")
}

// Cents rounds half away from zero to two places.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func FormatBRL(d decimal.Decimal) string {
	s := Cents(d).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	out := "R$ " + grouped.String() + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// PercentOf returns base*rate rounded to cents.
func PercentOf(base, rate decimal.Decimal) decimal.Decimal {
	return Cents(base.Mul(rate))
}

// RateFromPercent turns 10 into 0.10; values already below one are kept.
func RateFromPercent(p decimal.Decimal) decimal.Decimal {
	if p.GreaterThan(decimal.NewFromInt(1)) {
		return p.Div(hundred)
	}
	return p
}

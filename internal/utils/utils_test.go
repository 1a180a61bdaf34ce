package utils

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := map[string]string{
		"12,50":   "12.5",
		" 3.5 ":   "3.5",
		"":        "0",
		"abc":     "0",
		"12.5abc": "12.5",
		"-4":      "-4",
	}
	for in, want := range cases {
		assert.True(t, decimal.RequireFromString(want).Equal(ParseMoney(in)), "input %q", in)
	}
}

func TestSanitizeDecimalInput(t *testing.T) {
	assert.Equal(t, "12.50", SanitizeDecimalInput("R$ 12,50"))
	assert.Equal(t, "1.23", SanitizeDecimalInput("1.2.3"))
	assert.Equal(t, "0.5", SanitizeDecimalInput(",5"))
	assert.Equal(t, "7", SanitizeDecimalInput("7,"))
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 21,80", FormatBRL(decimal.RequireFromString("21.8")))
	assert.Equal(t, "R$ 1.234,57", FormatBRL(decimal.RequireFromString("1234.567")))
	assert.Equal(t, "R$ 0,00", FormatBRL(decimal.Zero))
	assert.Equal(t, "-R$ 3,00", FormatBRL(decimal.NewFromInt(-3)))
}

func TestRateFromPercent(t *testing.T) {
	assert.True(t, decimal.RequireFromString("0.1").Equal(RateFromPercent(decimal.NewFromInt(10))))
	assert.True(t, decimal.RequireFromString("0.1").Equal(RateFromPercent(decimal.RequireFromString("0.1"))))
	assert.True(t, decimal.RequireFromString("1.8").Equal(PercentOf(decimal.NewFromInt(18), decimal.RequireFromString("0.10"))))
}

func TestFlexScalars(t *testing.T) {
	var line struct {
		ID    FlexString  `json:"id"`
		Qty   FlexInt     `json:"quantidade"`
		Paid  FlexInt     `json:"quantidade_paga"`
		Price FlexDecimal `json:"preco"`
		Flag  FlexBool    `json:"esgotado"`
	}
	raw := `{"id": 17, "quantidade": "3", "quantidade_paga": null, "preco": "12,50", "esgotado": "1"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &line))

	assert.Equal(t, "17", line.ID.String())
	assert.Equal(t, 3, line.Qty.Int())
	assert.Equal(t, 0, line.Paid.Int())
	assert.True(t, decimal.RequireFromString("12.5").Equal(line.Price.Decimal))
	assert.True(t, bool(line.Flag))

	out, err := json.Marshal(line.Price)
	require.NoError(t, err)
	assert.Equal(t, "12.5", string(out))
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 2, ParseInt("2.0"))
	assert.Equal(t, 0, ParseInt("x"))
	assert.Equal(t, 5, ParseInt(" 5 "))
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, exp, err := GenerateToken(secret, "ana", "loja-1", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, "loja-1", claims.Shop)

	got, ok := TokenExpiry(tok)
	require.True(t, ok)
	assert.WithinDuration(t, exp, got, time.Second)

	_, err = ParseToken([]byte("other"), tok)
	assert.Error(t, err)
}

func TestTokenExpiryOpaque(t *testing.T) {
	_, ok := TokenExpiry("not-a-jwt")
	assert.False(t, ok)
	_, ok = TokenExpiry("")
	assert.False(t, ok)
}

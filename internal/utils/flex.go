package utils

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// -- Tolerant JSON scalars --
// The backend is loose about scalar types: quantities arrive as "2" or 2,
// prices as 12.5 or "12,50", flags as true, 1 or "1".

type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(strings.Trim(string(b), `"`))
	return nil
}

func (s FlexString) String() string { return string(s) }

type FlexInt int

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	*n = FlexInt(ParseInt(rawScalar(b)))
	return nil
}

func (n FlexInt) Int() int { return int(n) }

type FlexDecimal struct {
	decimal.Decimal
}

func (d *FlexDecimal) UnmarshalJSON(b []byte) error {
	d.Decimal = ParseMoney(rawScalar(b))
	return nil
}

func (d FlexDecimal) MarshalJSON() ([]byte, error) {
	return []byte(d.Decimal.String()), nil
}

type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	*f = FlexBool(Truthy(rawScalar(b)))
	return nil
}

// ParseInt truncates numeric text ("2.0" -> 2); non numeric text is zero.
func ParseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return int(f)
	}
	return 0
}

func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true
	}
	return false
}

// AnyString renders a decoded JSON scalar as text.
func AnyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func rawScalar(b []byte) string {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return ""
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}

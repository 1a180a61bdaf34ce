package menu

import (
	"bytes"
	"encoding/json"
	"strings"

	"comanda-pos/internal/utils"

	"github.com/shopspring/decimal"
)

// ParseGroups normalizes option groups from whatever shape the backend sent:
// a JSON string (single quoted JSON is tolerated), raw bytes, a decoded array,
// or an object wrapping the array under "groups", "opcoes" or "options".
// It never fails; unusable input yields an empty list.
func ParseGroups(raw any) []OptionGroup {
	if typed, ok := raw.([]OptionGroup); ok {
		return CloneGroups(typed)
	}

	list := groupList(raw, 0)
	out := make([]OptionGroup, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, parseGroup(m))
	}
	return out
}

func groupList(raw any, depth int) []any {
	if depth > 3 {
		return nil
	}
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case map[string]any:
		for _, key := range []string{"groups", "opcoes", "options"} {
			if inner, ok := v[key]; ok {
				return groupList(inner, depth+1)
			}
		}
		return nil
	case string:
		return groupList(decodeLoose([]byte(v)), depth+1)
	case json.RawMessage:
		return groupList(decodeLoose(v), depth+1)
	case []byte:
		return groupList(decodeLoose(v), depth+1)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return groupList(decodeLoose(b), depth+1)
	}
}

func decodeLoose(b []byte) any {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if v, err := decodeJSON(b); err == nil {
		return v
	}
	if v, err := decodeJSON(bytes.ReplaceAll(b, []byte("'"), []byte(`"`))); err == nil {
		return v
	}
	return nil
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func parseGroup(m map[string]any) OptionGroup {
	g := OptionGroup{
		Name:        firstString(m, "nome", "Nome", "name"),
		IDs:         utils.AnyString(m["ids"]),
		MaxSelected: utils.ParseInt(utils.AnyString(m["max_selected"])),
		Required:    truthy(m["obrigatorio"]) || truthy(m["Obrigatorio"]),
	}
	if g.Name == "" {
		g.Name = DefaultGroupName
	}
	if g.MaxSelected < 1 {
		g.MaxSelected = 1
	}

	rawOpts, ok := m["options"]
	if !ok {
		rawOpts = m["opcoes"]
	}
	list, _ := rawOpts.([]any)
	g.Options = make([]Option, 0, len(list))
	for _, o := range list {
		g.Options = append(g.Options, parseOption(o))
	}
	return g
}

func parseOption(raw any) Option {
	m, ok := raw.(map[string]any)
	if !ok {
		return Option{Name: utils.AnyString(raw), ExtraPrice: decimal.Zero}
	}
	extra := utils.ParseMoney(utils.AnyString(m["valor_extra"]))
	if extra.IsNegative() {
		extra = decimal.Zero
	}
	return Option{
		Name:       firstString(m, "nome", "name"),
		ExtraPrice: extra,
		SoldOut:    truthy(m["esgotado"]),
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := strings.TrimSpace(utils.AnyString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case string:
		return utils.Truthy(t)
	}
	return false
}

// -- Canonical wire form --

type wireOption struct {
	Nome       string      `json:"nome"`
	ValorExtra json.Number `json:"valor_extra"`
	Esgotado   int         `json:"esgotado"`
}

type wireGroup struct {
	Nome        string       `json:"nome"`
	IDs         string       `json:"ids"`
	MaxSelected int          `json:"max_selected"`
	Obrigatorio int          `json:"obrigatorio"`
	Options     []wireOption `json:"options"`
}

// SerializeGroups renders groups the way the menu editor stores them.
func SerializeGroups(groups []OptionGroup) string {
	out := make([]wireGroup, 0, len(groups))
	for _, g := range groups {
		wg := wireGroup{
			Nome:        g.Name,
			IDs:         g.IDs,
			MaxSelected: g.MaxSelected,
			Obrigatorio: boolInt(g.Required),
			Options:     make([]wireOption, 0, len(g.Options)),
		}
		for _, o := range g.Options {
			wg.Options = append(wg.Options, wireOption{
				Nome:       o.Name,
				ValorExtra: json.Number(o.ExtraPrice.String()),
				Esgotado:   boolInt(o.SoldOut),
			})
		}
		out = append(out, wg)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package menu holds the menu snapshot and the option group rules a menu item
// is configured with.
package menu

import (
	"github.com/shopspring/decimal"
)

const DefaultGroupName = "Opções"

type Option struct {
	Name       string
	ExtraPrice decimal.Decimal
	SoldOut    bool
}

type OptionGroup struct {
	Name        string
	IDs         string
	MaxSelected int
	Required    bool
	Options     []Option
}

type Item struct {
	ID           string
	Name         string
	Category     string
	BasePrice    decimal.Decimal
	OptionGroups []OptionGroup
}

func (g OptionGroup) AvailableOptions() []Option {
	out := make([]Option, 0, len(g.Options))
	for _, o := range g.Options {
		if !o.SoldOut {
			out = append(out, o)
		}
	}
	return out
}

// EffectiveMax is the declared limit clamped to [1, available]. A group with
// nothing available is inert and reports 0.
func (g OptionGroup) EffectiveMax() int {
	available := len(g.AvailableOptions())
	if available == 0 {
		return 0
	}
	max := g.MaxSelected
	if max < 1 {
		max = 1
	}
	if max > available {
		max = available
	}
	return max
}

// IsRequiredSatisfied skips groups that are optional or fully sold out.
func (g OptionGroup) IsRequiredSatisfied(selected []string) bool {
	if !g.Required {
		return true
	}
	available := g.AvailableOptions()
	if len(available) == 0 {
		return true
	}
	for _, o := range available {
		for _, name := range selected {
			if o.Name == name {
				return true
			}
		}
	}
	return false
}

func (g OptionGroup) Option(name string) (Option, bool) {
	for _, o := range g.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

func (g OptionGroup) isAvailable(name string) bool {
	o, ok := g.Option(name)
	return ok && !o.SoldOut
}

func (g OptionGroup) clone() OptionGroup {
	g.Options = append([]Option(nil), g.Options...)
	return g
}

func CloneGroups(groups []OptionGroup) []OptionGroup {
	out := make([]OptionGroup, len(groups))
	for i, g := range groups {
		out[i] = g.clone()
	}
	return out
}

package menu

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOptionSoldOut = errors.New("option is sold out")
	ErrUnknownGroup  = errors.New("unknown option group")
)

type MaxSelectedError struct {
	Group string
	Max   int
}

func (e *MaxSelectedError) Error() string {
	return fmt.Sprintf("max %d in group %q", e.Max, e.Group)
}

type MissingRequiredError struct {
	Group string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("select at least one option in %q", e.Group)
}

// SelectionState holds the chosen option names per group position.
type SelectionState [][]string

func NewSelection(groups []OptionGroup) SelectionState {
	s := make(SelectionState, len(groups))
	for i := range s {
		s[i] = []string{}
	}
	return s
}

func (s SelectionState) Clone() SelectionState {
	out := make(SelectionState, len(s))
	for i, names := range s {
		out[i] = append([]string{}, names...)
	}
	return out
}

func (s SelectionState) Selected(groupIndex int) []string {
	if groupIndex < 0 || groupIndex >= len(s) {
		return nil
	}
	return s[groupIndex]
}

// Toggle flips optionName in group groupIndex. On rejection the returned state
// is the input state and the error says why; state is never mutated in place.
func Toggle(groups []OptionGroup, state SelectionState, groupIndex int, optionName string) (SelectionState, error) {
	if groupIndex < 0 || groupIndex >= len(groups) {
		return state, ErrUnknownGroup
	}
	g := groups[groupIndex]
	if !g.isAvailable(optionName) {
		return state, ErrOptionSoldOut
	}

	next := state.Clone()
	for len(next) < len(groups) {
		next = append(next, []string{})
	}

	current := make([]string, 0, len(next[groupIndex]))
	selected := false
	for _, name := range next[groupIndex] {
		if !g.isAvailable(name) {
			continue
		}
		if name == optionName {
			selected = true
			continue
		}
		current = append(current, name)
	}

	if selected {
		next[groupIndex] = current
		return next, nil
	}

	max := g.EffectiveMax()
	if max <= 1 {
		next[groupIndex] = []string{optionName}
		return next, nil
	}
	if len(current) >= max {
		return state, &MaxSelectedError{Group: g.Name, Max: max}
	}

	next[groupIndex] = append(current, optionName)
	return next, nil
}

type ResolvedOption struct {
	Name       string          `json:"nome"`
	ExtraPrice decimal.Decimal `json:"valor_extra"`
}

func (o ResolvedOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nome       string      `json:"nome"`
		ValorExtra json.Number `json:"valor_extra"`
	}{o.Name, json.Number(o.ExtraPrice.String())})
}

type ResolvedGroup struct {
	Name        string           `json:"nome"`
	IDs         string           `json:"ids"`
	MaxSelected int              `json:"max_selected"`
	Options     []ResolvedOption `json:"options"`
}

// Resolve keeps the available selected options of each group in declared
// order. Groups left with nothing are omitted.
func Resolve(groups []OptionGroup, state SelectionState) []ResolvedGroup {
	out := make([]ResolvedGroup, 0, len(groups))
	for i, g := range groups {
		chosen := make(map[string]bool)
		for _, name := range state.Selected(i) {
			chosen[name] = true
		}

		rg := ResolvedGroup{Name: g.Name, IDs: g.IDs, MaxSelected: g.MaxSelected}
		for _, o := range g.Options {
			if o.SoldOut || !chosen[o.Name] {
				continue
			}
			rg.Options = append(rg.Options, ResolvedOption{Name: o.Name, ExtraPrice: o.ExtraPrice})
		}
		if len(rg.Options) > 0 {
			out = append(out, rg)
		}
	}
	return out
}

func SumExtras(resolved []ResolvedGroup) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range resolved {
		for _, o := range g.Options {
			sum = sum.Add(o.ExtraPrice)
		}
	}
	return sum
}

// Validate returns a *MissingRequiredError for the first required group
// without an available selection.
func Validate(groups []OptionGroup, state SelectionState) error {
	for i, g := range groups {
		if !g.IsRequiredSatisfied(state.Selected(i)) {
			return &MissingRequiredError{Group: g.Name}
		}
	}
	return nil
}

package menu

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"comanda-pos/internal/search"
	"comanda-pos/internal/utils"
)

// Catalog is the terminal's copy of the menu. It is replaced wholesale every
// time the backend pushes a new snapshot.
type Catalog struct {
	mu    sync.RWMutex
	items []Item
	byID  map[string]int
}

func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[string]int)}
}

type menuSnapshot struct {
	Data []menuEntry `json:"dataCardapio"`
}

type menuEntry struct {
	ID       utils.FlexString  `json:"id"`
	Item     utils.FlexString  `json:"item"`
	Price    utils.FlexDecimal `json:"preco"`
	Category utils.FlexString  `json:"categoria"`
	Options  json.RawMessage   `json:"opcoes"`
}

// ParseMenuSnapshot decodes a respostaCardapio payload.
func ParseMenuSnapshot(payload []byte) ([]Item, error) {
	var snap menuSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode menu snapshot: %w", err)
	}

	items := make([]Item, 0, len(snap.Data))
	for _, e := range snap.Data {
		name := strings.TrimSpace(e.Item.String())
		if name == "" {
			continue
		}
		items = append(items, Item{
			ID:           e.ID.String(),
			Name:         name,
			Category:     e.Category.String(),
			BasePrice:    e.Price.Decimal,
			OptionGroups: ParseGroups(e.Options),
		})
	}
	return items, nil
}

func (c *Catalog) Replace(items []Item) {
	byID := make(map[string]int, len(items))
	for i, it := range items {
		if it.ID != "" {
			byID[it.ID] = i
		}
	}

	c.mu.Lock()
	c.items = items
	c.byID = byID
	c.mu.Unlock()
}

func (c *Catalog) ReplaceFromSnapshot(payload []byte) error {
	items, err := ParseMenuSnapshot(payload)
	if err != nil {
		return err
	}
	c.Replace(items)
	return nil
}

func (c *Catalog) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Item(nil), c.items...)
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Find looks an item up by id, then by case-insensitive name.
func (c *Catalog) Find(idOrName string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.byID[idOrName]; ok {
		return c.items[i], true
	}
	want := strings.ToLower(strings.TrimSpace(idOrName))
	for _, it := range c.items {
		if strings.ToLower(it.Name) == want {
			return it, true
		}
	}
	return Item{}, false
}

func (c *Catalog) Search(q string) []Item {
	return search.Rank(q, c.Items(), func(it Item) string { return it.Name })
}

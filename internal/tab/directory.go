package tab

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"comanda-pos/internal/search"
	"comanda-pos/internal/utils"
)

type Entry struct {
	ID     string `json:"id"`
	TabID  string `json:"comanda"`
	Closed bool   `json:"closed"`
}

// Directory is the list of open and closed tabs, replaced by every
// respostaComandas push.
type Directory struct {
	mu     sync.RWMutex
	open   []Entry
	closed []Entry
}

func NewDirectory() *Directory {
	return &Directory{}
}

type wireEntry struct {
	ID    utils.FlexString `json:"id"`
	TabID utils.FlexString `json:"comanda"`
}

type directorySnapshot struct {
	Open   []wireEntry `json:"dados_comandaAberta"`
	Closed []wireEntry `json:"dados_comandaFechada"`
}

func ParseDirectory(payload []byte) (open, closed []Entry, err error) {
	var snap directorySnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, nil, fmt.Errorf("failed to decode tab list: %w", err)
	}
	return toEntries(snap.Open, false), toEntries(snap.Closed, true), nil
}

func toEntries(in []wireEntry, closed bool) []Entry {
	out := make([]Entry, 0, len(in))
	for _, w := range in {
		tabID := strings.TrimSpace(w.TabID.String())
		if tabID == "" {
			continue
		}
		out = append(out, Entry{ID: w.ID.String(), TabID: tabID, Closed: closed})
	}
	return out
}

func (d *Directory) Replace(open, closed []Entry) {
	d.mu.Lock()
	d.open = open
	d.closed = closed
	d.mu.Unlock()
}

func (d *Directory) ReplaceFromSnapshot(payload []byte) error {
	open, closed, err := ParseDirectory(payload)
	if err != nil {
		return err
	}
	d.Replace(open, closed)
	return nil
}

func (d *Directory) Open() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Entry(nil), d.open...)
}

func (d *Directory) Closed() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Entry(nil), d.closed...)
}

// Search ranks tabs by their tab id, open tabs before closed ones, listing
// each tab id once.
func (d *Directory) Search(q string) []Entry {
	d.mu.RLock()
	all := make([]Entry, 0, len(d.open)+len(d.closed))
	all = append(all, d.open...)
	all = append(all, d.closed...)
	d.mu.RUnlock()

	ranked := search.Rank(q, all, func(e Entry) string { return e.TabID })
	seen := make(map[string]bool, len(ranked))
	out := make([]Entry, 0, len(ranked))
	for _, e := range ranked {
		if seen[e.TabID] {
			continue
		}
		seen[e.TabID] = true
		out = append(out, e)
	}
	return out
}

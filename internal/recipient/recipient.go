// Package recipient holds the static gift records keyed by recipient id.
package recipient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"giftvalue/internal/history"
)

// Record describes one gift.
type Record struct {
	ID           string    `json:"-"`
	Recipient    string    `json:"recipient"`
	Giver        string    `json:"giver"`
	GiftDate     time.Time `json:"-"`
	InitialPrice float64   `json:"initial_price"`
	Quantity     float64   `json:"quantity"`
}

type recordJSON struct {
	Recipient    string  `json:"recipient"`
	Giver        string  `json:"giver"`
	GiftDate     string  `json:"gift_date"`
	InitialPrice float64 `json:"initial_price"`
	Quantity     float64 `json:"quantity"`
}

// Directory is the recipient map loaded from recipients.json.
type Directory map[string]Record

// Parse decodes recipients.json: an object keyed by recipient id.
func Parse(b []byte) (Directory, error) {
	var raw map[string]recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse recipients: %w", err)
	}
	dir := make(Directory, len(raw))
	for id, r := range raw {
		d, err := history.ParseDate(r.GiftDate)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", id, err)
		}
		if r.Quantity <= 0 {
			r.Quantity = 1
		}
		dir[id] = Record{
			ID:           id,
			Recipient:    r.Recipient,
			Giver:        r.Giver,
			GiftDate:     d,
			InitialPrice: r.InitialPrice,
			Quantity:     r.Quantity,
		}
	}
	return dir, nil
}

// Lookup finds a record by id. Ids are matched exactly, then
// case-insensitively; among ids differing only by case the smallest wins.
func (d Directory) Lookup(id string) (Record, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, false
	}
	if r, ok := d[id]; ok {
		return r, true
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, id) {
			return d[k], true
		}
	}
	return Record{}, false
}

// Choice is one entry of the selection list.
type Choice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Choices lists recipients sorted by display name, then id.
func (d Directory) Choices() []Choice {
	out := make([]Choice, 0, len(d))
	for id, r := range d {
		name := r.Recipient
		if name == "" {
			name = id
		}
		out = append(out, Choice{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

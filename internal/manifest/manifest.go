// Package manifest loads deck definitions from a TOML file and seeds them
// into the store.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hyperengineering/oracle/internal/store"
	"github.com/hyperengineering/oracle/internal/types"
)

// ErrInvalid is returned for a manifest that decodes but cannot be seeded.
var ErrInvalid = errors.New("invalid deck manifest")

// Manifest is the decoded form of a deck manifest file:
//
//	[[deck]]
//	name = "Sacred Rewrite"
//	is_free = true
//	product_ids = ["sacred_rewrite_full"]
type Manifest struct {
	Decks []DeckEntry `toml:"deck"`
}

// DeckEntry is one [[deck]] table.
type DeckEntry struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	IsFree      bool     `toml:"is_free"`
	IsStarter   bool     `toml:"is_starter"`
	ProductIDs  []string `toml:"product_ids"`
}

// DeckStore is the subset of the store the seeder needs.
type DeckStore interface {
	GetDeckByName(ctx context.Context, name string) (*types.Deck, error)
	CreateDeck(ctx context.Context, deck types.NewDeck) (*types.Deck, error)
}

// Result lists which manifest decks were created and which already existed.
type Result struct {
	Created  []types.Deck
	Existing []types.Deck
}

// Load decodes and checks a manifest file.
func Load(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Decode parses manifest text; used for embedded and test manifests.
func Decode(data string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) check() error {
	if len(m.Decks) == 0 {
		return fmt.Errorf("%w: no [[deck]] entries", ErrInvalid)
	}
	seen := make(map[string]bool, len(m.Decks))
	for i, d := range m.Decks {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("%w: deck %d has no name", ErrInvalid, i+1)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("%w: deck %q listed twice", ErrInvalid, name)
		}
		seen[strings.ToLower(name)] = true
		m.Decks[i].Name = name
	}
	return nil
}

// Seed creates every manifest deck missing from the store. Existing decks are
// left untouched, so seeding is safe to repeat.
func Seed(ctx context.Context, s DeckStore, m *Manifest) (*Result, error) {
	res := &Result{}
	for _, d := range m.Decks {
		existing, err := s.GetDeckByName(ctx, d.Name)
		if err == nil {
			res.Existing = append(res.Existing, *existing)
			continue
		}
		if !errors.Is(err, store.ErrDeckNotFound) {
			return res, fmt.Errorf("look up deck %q: %w", d.Name, err)
		}

		created, err := s.CreateDeck(ctx, types.NewDeck{
			Name:        d.Name,
			Description: d.Description,
			IsFree:      d.IsFree,
			IsStarter:   d.IsStarter,
			ProductIDs:  d.ProductIDs,
		})
		if err != nil {
			return res, fmt.Errorf("create deck %q: %w", d.Name, err)
		}
		res.Created = append(res.Created, *created)
	}
	return res, nil
}

// internal/catalog/domain.go
package catalog

import (
	"fmt"

	"membercycle/internal/docstore"
)

// CollectionGames holds shared resource records.
const CollectionGames = "games"

// Stored field names of a game document.
const (
	FieldAccounts                = "accounts"
	FieldHasSuspendedContributor = "has_suspended_contributor"
	FieldSuspendedContributorIDs = "suspended_contributor_ids"
)

// Account is one contributor account attached to a game.
type Account struct {
	ContributorID string `json:"contributor_id"`
	Email         string `json:"email,omitempty"`
}

// Game represents a shared resource contributed by members.
type Game struct {
	ID                      string    `json:"-"`
	Title                   string    `json:"title"`
	Accounts                []Account `json:"accounts"`
	HasSuspendedContributor bool      `json:"has_suspended_contributor"`
	SuspendedContributorIDs []string  `json:"suspended_contributor_ids"`
}

// HasContributor reports whether memberID owns one of the game's accounts.
func (g *Game) HasContributor(memberID string) bool {
	for _, a := range g.Accounts {
		if a.ContributorID == memberID {
			return true
		}
	}
	return false
}

// FromDocument decodes a stored game document.
func FromDocument(doc docstore.Document) (*Game, error) {
	g := &Game{}
	if err := doc.DataTo(g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", doc.ID, err)
	}
	g.ID = doc.ID
	return g, nil
}

// ContributorKey is the reverse-index key under which games are found by
// contributor.
func ContributorKey(memberID string) string {
	return "contributor:" + memberID
}

// ContributorIndex derives the reverse-index keys of a game document: one
// per distinct contributor account.
func ContributorIndex(fields map[string]any) []string {
	accounts, _ := fields[FieldAccounts].([]any)
	var keys []string
	for _, raw := range accounts {
		account, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, ok := account["contributor_id"].(string)
		if !ok || id == "" {
			continue
		}
		keys = append(keys, ContributorKey(id))
	}
	return keys
}

// Indexes returns the docstore index functions this package relies on.
func Indexes() map[string]docstore.IndexFunc {
	return map[string]docstore.IndexFunc{CollectionGames: ContributorIndex}
}

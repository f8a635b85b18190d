// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"

	"membercycle/internal/docstore"
)

// ErrGameNotFound is returned when no game document has the requested id.
var ErrGameNotFound = errors.New("game not found")

// service implements the Service interface.
type service struct {
	store docstore.Store
}

// NewService creates a new catalog service instance.
func NewService(store docstore.Store) Service {
	return &service{store: store}
}

// GetGame retrieves a game by document id.
func (s *service) GetGame(ctx context.Context, id string) (*Game, error) {
	doc, err := s.store.Get(ctx, docstore.Ref{Collection: CollectionGames, ID: id})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return FromDocument(*doc)
}

// GamesByContributor resolves contributor games through the reverse index
// instead of scanning the collection.
func (s *service) GamesByContributor(ctx context.Context, memberID string) ([]string, error) {
	ids, err := s.store.Lookup(ctx, CollectionGames, ContributorKey(memberID))
	if err != nil {
		return nil, fmt.Errorf("failed to look up games for %s: %w", memberID, err)
	}
	return ids, nil
}

// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines read access to game records.
type Service interface {
	GetGame(ctx context.Context, id string) (*Game, error)
	// GamesByContributor returns the ids of games with an account owned by memberID.
	GamesByContributor(ctx context.Context, memberID string) ([]string, error)
}

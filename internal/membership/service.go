// internal/membership/service.go
package membership

import (
	"context"
)

// Service defines read access to member records and their audit trail.
type Service interface {
	GetMember(ctx context.Context, id string) (*Member, error)
	ListPromotions(ctx context.Context, userID string) ([]*PromotionLog, error)
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)
}

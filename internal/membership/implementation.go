// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"membercycle/internal/docstore"
)

// ErrMemberNotFound is returned when no member document has the requested id.
var ErrMemberNotFound = errors.New("member not found")

var tracer = otel.Tracer("membercycle/membership")

// service implements the Service interface.
type service struct {
	store docstore.Store
}

// NewService creates a new membership service instance.
func NewService(store docstore.Store) Service {
	return &service{store: store}
}

// GetMember retrieves a member by document id.
func (s *service) GetMember(ctx context.Context, id string) (*Member, error) {
	ctx, span := tracer.Start(ctx, "membership.get_member",
		trace.WithAttributes(attribute.String("member.id", id)),
	)
	defer span.End()

	doc, err := s.store.Get(ctx, docstore.Ref{Collection: CollectionUsers, ID: id})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return FromDocument(*doc)
}

// ListPromotions returns the promotion log entries of one member.
func (s *service) ListPromotions(ctx context.Context, userID string) ([]*PromotionLog, error) {
	var logs []*PromotionLog
	err := s.scan(ctx, CollectionPromotions, userID, func(doc docstore.Document) error {
		entry := &PromotionLog{}
		if err := doc.DataTo(entry); err != nil {
			return fmt.Errorf("decode promotion %s: %w", doc.ID, err)
		}
		logs = append(logs, entry)
		return nil
	})
	return logs, err
}

// ListNotifications returns the notifications addressed to one member.
func (s *service) ListNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	var out []*Notification
	err := s.scan(ctx, CollectionNotifications, userID, func(doc docstore.Document) error {
		n := &Notification{}
		if err := doc.DataTo(n); err != nil {
			return fmt.Errorf("decode notification %s: %w", doc.ID, err)
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

func (s *service) scan(ctx context.Context, collection, userID string, fn func(docstore.Document) error) error {
	q := docstore.Query{
		Collection: collection,
		Filters:    []docstore.Filter{docstore.Eq("user_id", userID)},
	}
	for {
		page, err := s.store.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		for _, doc := range page.Docs {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if page.Done {
			return nil
		}
		q.After = page.Next
	}
}

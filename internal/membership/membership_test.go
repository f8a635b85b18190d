package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membercycle/internal/docstore"
)

func setupService(t *testing.T) (Service, *docstore.SQLStore) {
	t.Helper()
	db, err := docstore.Open(docstore.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := docstore.New(db, docstore.SQLite, docstore.Options{})
	return NewService(store), store
}

func TestGetMember(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	joined := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	expiry := joined.AddDate(0, 6, 0)

	b := store.NewBatch()
	b.Add(docstore.Set(docstore.Ref{Collection: CollectionUsers, ID: "u1"}, map[string]any{
		"name":         "Mona",
		"status":       "active",
		"tier":         "client",
		"join_date":    joined,
		"total_shares": 7,
		"borrow_value": decimal.RequireFromString("120.50"),
		"balance_entries": []map[string]any{
			{"amount": 100, "type": "borrowValue", "expiry_date": expiry, "is_expired": false, "source": "swap"},
		},
		"nickname": "mo",
	}))
	require.NoError(t, b.Commit(ctx))

	m, err := svc.GetMember(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", m.ID)
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, TierClient, m.Tier)
	require.NotNil(t, m.JoinDate)
	assert.True(t, m.JoinDate.Equal(joined))
	assert.Nil(t, m.LastActivityDate)
	assert.Equal(t, 7, m.TotalShares)
	assert.True(t, m.BorrowValue.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, 1, m.BorrowLimitOrDefault())

	require.Len(t, m.BalanceEntries, 1)
	entry := m.BalanceEntries[0]
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "borrowValue", entry.Type)
	require.NotNil(t, entry.ExpiryDate)
	assert.True(t, entry.ExpiryDate.Equal(expiry))

	assert.Equal(t, "mo", m.Raw["nickname"])
}

func TestGetMemberNotFound(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.GetMember(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMemberNotFound))
}

func TestListPromotionsAndNotifications(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	b := store.NewBatch()
	b.Add(docstore.Set(docstore.NewRef(CollectionPromotions), map[string]any{
		"user_id": "u1", "total_shares_at_promotion": 20, "fund_shares_at_promotion": 6,
		"promotion_date": time.Now().UTC(), "triggered_by": "scheduled",
	}))
	b.Add(docstore.Set(docstore.NewRef(CollectionPromotions), map[string]any{
		"user_id": "u2", "total_shares_at_promotion": 15, "fund_shares_at_promotion": 5,
		"promotion_date": time.Now().UTC(), "triggered_by": "manual", "admin_id": "root",
	}))
	b.Add(docstore.Set(docstore.NewRef(CollectionNotifications), map[string]any{
		"user_id": "u1", "type": NotificationRenewalRequired, "message": "renew",
		"created_at": time.Now().UTC(), "read": false,
	}))
	require.NoError(t, b.Commit(ctx))

	logs, err := svc.ListPromotions(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, OriginManual, logs[0].TriggeredBy)
	assert.Equal(t, "root", logs[0].AdminID)

	notes, err := svc.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, NotificationRenewalRequired, notes[0].Type)
	assert.False(t, notes[0].Read)
}

func TestTierHelpers(t *testing.T) {
	assert.True(t, TierUser.IsRegular())
	assert.False(t, TierVIP.IsRegular())
	assert.False(t, TierAdmin.IsRegular())
	assert.Equal(t, TierMember, (&Member{}).EffectiveTier())
	assert.Equal(t, TierMember, (&Member{Tier: "gold"}).EffectiveTier())
	assert.Equal(t, TierAdmin, (&Member{Tier: TierAdmin}).EffectiveTier())
	assert.Equal(t, TierClient, (&Member{Tier: TierClient}).EffectiveTier())
}

package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"membercycle/internal/catalog"
	"membercycle/internal/docstore"
	"membercycle/internal/membership"
)

// ErrUnknownBalanceField is returned for a balance mapping whose target is
// not a monetary member field.
var ErrUnknownBalanceField = errors.New("unknown balance field")

// DefaultBalanceFields maps balance entry categories to member fields.
func DefaultBalanceFields() map[string]string {
	return map[string]string{
		"borrowValue":      membership.FieldBorrowValue,
		"sellValue":        membership.FieldSellValue,
		"refunds":          membership.FieldRefunds,
		"referralEarnings": membership.FieldReferralEarnings,
	}
}

// Trigger records what started a run.
type Trigger struct {
	Origin  membership.Origin
	ActorID string
}

// Scheduled is the trigger of cron and pipeline runs.
var Scheduled = Trigger{Origin: membership.OriginScheduled}

// Manual returns the trigger of an admin-initiated run.
func Manual(adminID string) Trigger {
	return Trigger{Origin: membership.OriginManual, ActorID: adminID}
}

// Applicator turns decisions into store writes. Member updates carry the
// version read during the scan, so a concurrent change fails the batch
// instead of being overwritten.
type Applicator struct {
	rules         Rules
	balanceFields map[string]string
}

// NewApplicator validates the balance category mapping.
func NewApplicator(rules Rules, balanceFields map[string]string) (*Applicator, error) {
	allowed := map[string]bool{}
	for _, f := range membership.MonetaryFields {
		allowed[f] = true
	}
	fields := make(map[string]string, len(balanceFields))
	for category, field := range balanceFields {
		if !allowed[field] {
			return nil, fmt.Errorf("%w: %q for category %q", ErrUnknownBalanceField, field, category)
		}
		fields[category] = field
	}
	return &Applicator{rules: rules, balanceFields: fields}, nil
}

func (a *Applicator) Rules() Rules { return a.rules }

// Suspend zeroes the member's balances and limits after snapshotting them,
// and flags every game the member contributes to.
func (a *Applicator) Suspend(m *membership.Member, gameIDs []string) []docstore.Write {
	entries, _ := m.Raw[membership.FieldBalanceEntries].([]any)
	if entries == nil {
		entries = []any{}
	}
	snapshot := map[string]any{
		membership.FieldStationLimit:          m.StationLimit,
		membership.FieldRemainingStationLimit: m.RemainingStationLimit,
		membership.FieldPoints:                m.Points,
		membership.FieldBalanceEntries:        entries,
		membership.FieldBorrowLimit:           m.BorrowLimitOrDefault(),
		membership.FieldGameShares:            m.GameShares,
		membership.FieldFundShares:            m.FundShares,
		membership.FieldTotalShares:           m.TotalShares,
	}

	fields := map[string]any{
		membership.FieldStatus:                membership.StatusSuspended,
		membership.FieldSuspensionDate:        docstore.ServerTimestamp,
		membership.FieldPreSuspensionData:     snapshot,
		membership.FieldStationLimit:          0,
		membership.FieldRemainingStationLimit: 0,
		membership.FieldPoints:                0,
		membership.FieldBorrowLimit:           0,
		membership.FieldCurrentBorrows:        0,
		membership.FieldFreeBorrowings:        0,
		membership.FieldBalanceEntries:        []any{},
		membership.FieldGameShares:            0,
		membership.FieldFundShares:            0,
		membership.FieldTotalShares:           0,
		membership.FieldExpiredBalance:        docstore.Increment(ForfeitedBalance(m)),
		membership.FieldUpdatedAt:             docstore.ServerTimestamp,
	}
	for _, f := range membership.MonetaryFields {
		fields[f] = decimal.Zero
	}

	writes := []docstore.Write{
		docstore.Update(m.Ref(), fields).WithVersion(m.Version),
	}
	for _, id := range gameIDs {
		writes = append(writes, docstore.Update(
			docstore.Ref{Collection: catalog.CollectionGames, ID: id},
			map[string]any{
				catalog.FieldHasSuspendedContributor: true,
				catalog.FieldSuspendedContributorIDs: docstore.ArrayUnion(m.ID),
			},
		))
	}
	return writes
}

// ExpireBalances flags the expired entries and moves their amounts from the
// mapped category fields to the expired balance. It also returns the
// categories that have no mapping; their entries still expire.
func (a *Applicator) ExpireBalances(m *membership.Member, exp Expiry) (docstore.Write, []string) {
	entries := a.entryMaps(m)
	for _, e := range exp.Entries {
		if e.Index < len(entries) {
			entries[e.Index]["is_expired"] = true
		}
	}
	rewritten := make([]any, len(entries))
	for i, e := range entries {
		rewritten[i] = e
	}

	fields := map[string]any{
		membership.FieldBalanceEntries: rewritten,
		membership.FieldExpiredBalance: docstore.Increment(exp.Total),
		membership.FieldUpdatedAt:      docstore.ServerTimestamp,
	}

	var unmapped []string
	byField := map[string]decimal.Decimal{}
	for _, typ := range exp.Types() {
		field, ok := a.balanceFields[typ]
		if !ok {
			unmapped = append(unmapped, typ)
			continue
		}
		byField[field] = byField[field].Add(exp.ByType[typ])
	}
	for field, amount := range byField {
		fields[field] = docstore.Increment(amount.Neg())
	}

	return docstore.Update(m.Ref(), fields).WithVersion(m.Version), unmapped
}

// entryMaps returns a mutable copy of the stored balance entries, keeping
// keys the typed model does not know about.
func (a *Applicator) entryMaps(m *membership.Member) []map[string]any {
	raw, _ := m.Raw[membership.FieldBalanceEntries].([]any)
	out := make([]map[string]any, len(m.BalanceEntries))
	for i, typed := range m.BalanceEntries {
		copied := map[string]any{}
		if i < len(raw) {
			if stored, ok := raw[i].(map[string]any); ok {
				for k, v := range stored {
					copied[k] = v
				}
				out[i] = copied
				continue
			}
		}
		data, _ := json.Marshal(typed)
		_ = json.Unmarshal(data, &copied)
		out[i] = copied
	}
	return out
}

// Promote moves the member to the VIP tier and writes its promotion log.
func (a *Applicator) Promote(m *membership.Member, trigger Trigger) []docstore.Write {
	update := docstore.Update(m.Ref(), map[string]any{
		membership.FieldTier:                    membership.TierVIP,
		membership.FieldVIPPromotionDate:        docstore.ServerTimestamp,
		membership.FieldBorrowLimit:             a.rules.VIPBorrowLimit,
		membership.FieldCanWithdrawBalance:      true,
		membership.FieldWithdrawalFeePercentage: a.rules.WithdrawalFeePercentage,
		membership.FieldUpdatedAt:               docstore.ServerTimestamp,
	}).WithVersion(m.Version)

	entry := map[string]any{
		"user_id":                   m.ID,
		"member_id":                 m.MemberID,
		"user_name":                 m.Name,
		"total_shares_at_promotion": m.TotalShares,
		"fund_shares_at_promotion":  m.FundShares,
		"promotion_date":            docstore.ServerTimestamp,
		"triggered_by":              trigger.Origin,
	}
	if trigger.ActorID != "" {
		entry["admin_id"] = trigger.ActorID
	}

	return []docstore.Write{
		update,
		docstore.Set(docstore.NewRef(membership.CollectionPromotions), entry),
	}
}

// ApplyScores overwrites the member's rank fields.
func (a *Applicator) ApplyScores(m *membership.Member, s Scores) docstore.Write {
	return docstore.Update(m.Ref(), map[string]any{
		membership.FieldCScore:          s.C,
		membership.FieldFScore:          s.F,
		membership.FieldHScore:          s.H,
		membership.FieldEScore:          s.E,
		membership.FieldOverallScore:    s.Overall,
		membership.FieldScoresUpdatedAt: docstore.ServerTimestamp,
		membership.FieldUpdatedAt:       docstore.ServerTimestamp,
	}).WithVersion(m.Version)
}

// NotifyRenewal creates the renewal notice of a client.
func (a *Applicator) NotifyRenewal(m *membership.Member) docstore.Write {
	return docstore.Set(docstore.NewRef(membership.CollectionNotifications), map[string]any{
		"user_id":    m.ID,
		"type":       membership.NotificationRenewalRequired,
		"message":    fmt.Sprintf("Your client membership needs renewal (%d LE) to continue borrowing.", a.rules.RenewalFee),
		"created_at": docstore.ServerTimestamp,
		"read":       false,
	})
}

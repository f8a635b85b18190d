// Package lifecycle decides which state transitions apply to a member and
// turns each decision into the store writes that carry it out.
package lifecycle

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"membercycle/internal/membership"
)

// ErrMissingActivityDate marks a member with neither an activity nor a join
// date. Callers skip such records.
var ErrMissingActivityDate = errors.New("member has no activity or join date")

const day = 24 * time.Hour

// Rules holds the thresholds of every transition.
type Rules struct {
	InactivityDays          int
	VIPTotalShares          int
	VIPFundShares           int
	VIPBorrowLimit          int
	WithdrawalFeePercentage int
	RenewalBorrowThreshold  int
	RenewalFee              int
}

func DefaultRules() Rules {
	return Rules{
		InactivityDays:          180,
		VIPTotalShares:          15,
		VIPFundShares:           5,
		VIPBorrowLimit:          5,
		WithdrawalFeePercentage: 20,
		RenewalBorrowThreshold:  10,
		RenewalFee:              750,
	}
}

// InactiveDays returns the whole days elapsed since the member's last
// activity, falling back to the join date.
func InactiveDays(m *membership.Member, now time.Time) (int, error) {
	ref := m.LastActivityDate
	if ref == nil {
		ref = m.JoinDate
	}
	if ref == nil {
		return 0, ErrMissingActivityDate
	}
	return int(now.Sub(*ref) / day), nil
}

// ShouldSuspend reports whether an active, regular-tier member has been
// inactive for at least InactivityDays. The boundary is inclusive.
func (r Rules) ShouldSuspend(m *membership.Member, now time.Time) (bool, error) {
	if m.Status != membership.StatusActive || !m.Tier.IsRegular() {
		return false, nil
	}
	days, err := InactiveDays(m, now)
	if err != nil {
		return false, err
	}
	return days >= r.InactivityDays, nil
}

// ShouldPromote reports whether an active, regular-tier member meets both VIP
// share thresholds.
func (r Rules) ShouldPromote(m *membership.Member) bool {
	if m.Status != membership.StatusActive || !m.Tier.IsRegular() {
		return false
	}
	return m.TotalShares >= r.VIPTotalShares && m.FundShares >= r.VIPFundShares
}

// NeedsRenewal reports whether an active client has used up its borrow
// allowance.
func (r Rules) NeedsRenewal(m *membership.Member) bool {
	return m.Status == membership.StatusActive &&
		m.Tier == membership.TierClient &&
		m.TotalBorrowsCount >= r.RenewalBorrowThreshold
}

// ExpiredEntry is a balance entry that expires in this run.
type ExpiredEntry struct {
	Index  int
	Amount decimal.Decimal
	Type   string
}

// Expiry collects the newly expired entries of one member.
type Expiry struct {
	Entries []ExpiredEntry
	Total   decimal.Decimal
	ByType  map[string]decimal.Decimal
}

func (e Expiry) Empty() bool { return len(e.Entries) == 0 }

// Types returns the expired categories in sorted order.
func (e Expiry) Types() []string {
	types := make([]string, 0, len(e.ByType))
	for t := range e.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// FindExpired returns the unexpired entries of an active member whose expiry
// date is strictly before now. Entries without an expiry date never expire.
func FindExpired(m *membership.Member, now time.Time) Expiry {
	exp := Expiry{ByType: map[string]decimal.Decimal{}}
	if m.Status != membership.StatusActive {
		return exp
	}
	for i, entry := range m.BalanceEntries {
		if entry.IsExpired || entry.ExpiryDate == nil || !entry.ExpiryDate.Before(now) {
			continue
		}
		typ := entry.Type
		if typ == "" {
			typ = "unknown"
		}
		exp.Entries = append(exp.Entries, ExpiredEntry{Index: i, Amount: entry.Amount, Type: typ})
		exp.Total = exp.Total.Add(entry.Amount)
		exp.ByType[typ] = exp.ByType[typ].Add(entry.Amount)
	}
	return exp
}

// ForfeitedBalance is the non-cash balance a member loses on suspension.
func ForfeitedBalance(m *membership.Member) decimal.Decimal {
	total := decimal.Zero
	for _, field := range membership.MonetaryFields {
		total = total.Add(m.Monetary(field))
	}
	return total
}

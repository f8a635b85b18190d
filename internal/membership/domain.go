// internal/membership/domain.go
package membership

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"membercycle/internal/docstore"
)

// Collections owned by this package.
const (
	CollectionUsers         = "users"
	CollectionPromotions    = "vip_promotions"
	CollectionNotifications = "notifications"
)

// Status of a member record.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tier is the privilege class of a member.
type Tier string

const (
	TierMember Tier = "member"
	TierClient Tier = "client"
	TierUser   Tier = "user"
	TierVIP    Tier = "vip"
	TierAdmin  Tier = "admin"
)

// RegularTiers are the tiers eligible for suspension and promotion.
var RegularTiers = []Tier{TierMember, TierClient, TierUser}

// IsRegular reports whether t is one of RegularTiers.
func (t Tier) IsRegular() bool {
	for _, r := range RegularTiers {
		if t == r {
			return true
		}
	}
	return false
}

// Stored field names of a member document.
const (
	FieldStatus                  = "status"
	FieldTier                    = "tier"
	FieldLastActivityDate        = "last_activity_date"
	FieldJoinDate                = "join_date"
	FieldTotalShares             = "total_shares"
	FieldFundShares              = "fund_shares"
	FieldGameShares              = "game_shares"
	FieldBorrowLimit             = "borrow_limit"
	FieldCurrentBorrows          = "current_borrows"
	FieldFreeBorrowings          = "freeborrowings"
	FieldStationLimit            = "station_limit"
	FieldRemainingStationLimit   = "remaining_station_limit"
	FieldPoints                  = "points"
	FieldBalanceEntries          = "balance_entries"
	FieldExpiredBalance          = "expired_balance"
	FieldBorrowValue             = "borrow_value"
	FieldSellValue               = "sell_value"
	FieldRefunds                 = "refunds"
	FieldReferralEarnings        = "referral_earnings"
	FieldPreSuspensionData       = "pre_suspension_data"
	FieldSuspensionDate          = "suspension_date"
	FieldVIPPromotionDate        = "vip_promotion_date"
	FieldCanWithdrawBalance      = "can_withdraw_balance"
	FieldWithdrawalFeePercentage = "withdrawal_fee_percentage"
	FieldCScore                  = "c_score"
	FieldFScore                  = "f_score"
	FieldHScore                  = "h_score"
	FieldEScore                  = "e_score"
	FieldOverallScore            = "overall_score"
	FieldScoresUpdatedAt         = "scores_updated_at"
	FieldTotalBorrowsCount       = "total_borrows_count"
	FieldUpdatedAt               = "updated_at"
)

// MonetaryFields are the balance categories a balance entry can draw from.
var MonetaryFields = []string{FieldBorrowValue, FieldSellValue, FieldRefunds, FieldReferralEarnings}

// BalanceEntry is a time-limited credit of one category.
type BalanceEntry struct {
	Amount     decimal.Decimal `json:"amount"`
	Type       string          `json:"type,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
	IsExpired  bool            `json:"is_expired"`
}

// Snapshot is the state captured on suspension for a later reactivation.
type Snapshot struct {
	StationLimit          int            `json:"station_limit"`
	RemainingStationLimit int            `json:"remaining_station_limit"`
	Points                int            `json:"points"`
	BalanceEntries        []BalanceEntry `json:"balance_entries"`
	BorrowLimit           int            `json:"borrow_limit"`
	GameShares            int            `json:"game_shares"`
	FundShares            int            `json:"fund_shares"`
	TotalShares           int            `json:"total_shares"`
}

// Member represents one program participant.
type Member struct {
	ID      string `json:"-"`
	Version int    `json:"-"`

	Name     string `json:"name,omitempty"`
	MemberID string `json:"member_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Status   Status `json:"status"`
	Tier     Tier   `json:"tier"`

	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	JoinDate         *time.Time `json:"join_date,omitempty"`

	TotalShares int `json:"total_shares"`
	FundShares  int `json:"fund_shares"`
	GameShares  int `json:"game_shares"`

	// BorrowLimit is nil when the record never had one; see BorrowLimitOrDefault.
	BorrowLimit           *int `json:"borrow_limit,omitempty"`
	CurrentBorrows        int  `json:"current_borrows"`
	StationLimit          int  `json:"station_limit"`
	RemainingStationLimit int  `json:"remaining_station_limit"`
	Points                int  `json:"points"`

	BalanceEntries   []BalanceEntry  `json:"balance_entries"`
	ExpiredBalance   decimal.Decimal `json:"expired_balance"`
	BorrowValue      decimal.Decimal `json:"borrow_value"`
	SellValue        decimal.Decimal `json:"sell_value"`
	Refunds          decimal.Decimal `json:"refunds"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`

	PreSuspensionData *Snapshot  `json:"pre_suspension_data,omitempty"`
	SuspensionDate    *time.Time `json:"suspension_date,omitempty"`

	VIPPromotionDate        *time.Time `json:"vip_promotion_date,omitempty"`
	CanWithdrawBalance      bool       `json:"can_withdraw_balance"`
	WithdrawalFeePercentage int        `json:"withdrawal_fee_percentage,omitempty"`

	CScore          int        `json:"c_score,omitempty"`
	FScore          int        `json:"f_score,omitempty"`
	HScore          int        `json:"h_score,omitempty"`
	EScore          int        `json:"e_score,omitempty"`
	OverallScore    float64    `json:"overall_score,omitempty"`
	ScoresUpdatedAt *time.Time `json:"scores_updated_at,omitempty"`

	TotalBorrowsCount int      `json:"total_borrows_count"`
	AverageHoldPeriod *float64 `json:"average_hold_period,omitempty"`
	NetExchange       float64  `json:"net_exchange"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Raw is the stored document as decoded, kept so rewrites of nested
	// values preserve fields this struct does not model.
	Raw map[string]any `json:"-"`
}

// BorrowLimitOrDefault returns the borrow limit, 1 when unset.
func (m *Member) BorrowLimitOrDefault() int {
	if m.BorrowLimit == nil {
		return 1
	}
	return *m.BorrowLimit
}

// EffectiveTier returns the tier used for cohort grouping. A missing or
// unrecognised tier counts as member.
func (m *Member) EffectiveTier() Tier {
	switch m.Tier {
	case TierMember, TierClient, TierUser, TierVIP, TierAdmin:
		return m.Tier
	}
	return TierMember
}

// Ref returns the document reference of the member.
func (m *Member) Ref() docstore.Ref {
	return docstore.Ref{Collection: CollectionUsers, ID: m.ID}
}

// Monetary returns the value of one of MonetaryFields.
func (m *Member) Monetary(field string) decimal.Decimal {
	switch field {
	case FieldBorrowValue:
		return m.BorrowValue
	case FieldSellValue:
		return m.SellValue
	case FieldRefunds:
		return m.Refunds
	case FieldReferralEarnings:
		return m.ReferralEarnings
	}
	return decimal.Zero
}

// FromDocument decodes a stored member document.
func FromDocument(doc docstore.Document) (*Member, error) {
	m := &Member{}
	if err := doc.DataTo(m); err != nil {
		return nil, fmt.Errorf("decode member %s: %w", doc.ID, err)
	}
	raw, err := doc.Fields()
	if err != nil {
		return nil, fmt.Errorf("decode member %s: %w", doc.ID, err)
	}
	m.ID = doc.ID
	m.Version = doc.Version
	m.Raw = raw
	return m, nil
}

// Origin identifies what started a transition.
type Origin string

const (
	OriginScheduled Origin = "scheduled"
	OriginManual    Origin = "manual"
)

// PromotionLog is the immutable audit record written for every VIP promotion.
type PromotionLog struct {
	UserID                 string    `json:"user_id"`
	MemberID               string    `json:"member_id,omitempty"`
	UserName               string    `json:"user_name,omitempty"`
	TotalSharesAtPromotion int       `json:"total_shares_at_promotion"`
	FundSharesAtPromotion  int       `json:"fund_shares_at_promotion"`
	PromotionDate          time.Time `json:"promotion_date"`
	TriggeredBy            Origin    `json:"triggered_by"`
	AdminID                string    `json:"admin_id,omitempty"`
}

// NotificationRenewalRequired is the type of the weekly client renewal notice.
const NotificationRenewalRequired = "renewal_required"

// Notification is an append-only message addressed to a member.
type Notification struct {
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

package lifecycle

import (
	"sort"

	"membercycle/internal/membership"
)

// Score weights of the composite ranking. Lower overall scores are better.
const (
	weightContribution = 0.2
	weightFunds        = 0.35
	weightHold         = 0.1
	weightExchange     = 0.35

	// missingHoldPeriod ranks members without a hold period last.
	missingHoldPeriod = 999.0
)

// Cohorts are the tiers ranked independently of each other.
var Cohorts = []membership.Tier{
	membership.TierMember,
	membership.TierVIP,
	membership.TierClient,
	membership.TierUser,
}

// Scores are the per-metric ranks of one member within its cohort.
type Scores struct {
	C       int
	F       int
	H       int
	E       int
	Overall float64
}

// Rank groups active borrowers into tier cohorts and ranks each cohort.
// Unknown tiers rank with members; admins are not ranked.
func Rank(members []*membership.Member) map[string]Scores {
	groups := map[membership.Tier][]*membership.Member{}
	for _, m := range members {
		if m.Status != membership.StatusActive || m.TotalBorrowsCount <= 0 {
			continue
		}
		tier := m.EffectiveTier()
		groups[tier] = append(groups[tier], m)
	}

	out := map[string]Scores{}
	for _, tier := range Cohorts {
		for id, s := range RankCohort(groups[tier]) {
			out[id] = s
		}
	}
	return out
}

// RankCohort ranks one cohort on every metric, 1 being best. The cohort is
// first ordered by member id so equal values get the same ranks on every run.
func RankCohort(cohort []*membership.Member) map[string]Scores {
	users := make([]*membership.Member, len(cohort))
	copy(users, cohort)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	scores := make(map[string]*Scores, len(users))
	for _, m := range users {
		scores[m.ID] = &Scores{}
	}

	sort.SliceStable(users, func(i, j int) bool { return users[i].TotalShares > users[j].TotalShares })
	for i, m := range users {
		scores[m.ID].C = i + 1
	}

	sort.SliceStable(users, func(i, j int) bool { return users[i].FundShares > users[j].FundShares })
	for i, m := range users {
		scores[m.ID].F = i + 1
	}

	sort.SliceStable(users, func(i, j int) bool { return holdPeriod(users[i]) < holdPeriod(users[j]) })
	for i, m := range users {
		scores[m.ID].H = i + 1
	}

	sort.SliceStable(users, func(i, j int) bool { return users[i].NetExchange > users[j].NetExchange })
	for i, m := range users {
		scores[m.ID].E = i + 1
	}

	out := make(map[string]Scores, len(scores))
	for id, s := range scores {
		s.Overall = weightContribution*float64(s.C) +
			weightFunds*float64(s.F) +
			weightHold*float64(s.H) +
			weightExchange*float64(s.E)
		out[id] = *s
	}
	return out
}

func holdPeriod(m *membership.Member) float64 {
	if m.AverageHoldPeriod == nil {
		return missingHoldPeriod
	}
	return *m.AverageHoldPeriod
}

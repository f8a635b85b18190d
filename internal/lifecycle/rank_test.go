package lifecycle

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"membercycle/internal/membership"
)

func borrower(id string, tier membership.Tier, total, fund int, hold *float64, exchange float64) *membership.Member {
	return &membership.Member{
		ID:                id,
		Status:            membership.StatusActive,
		Tier:              tier,
		TotalShares:       total,
		FundShares:        fund,
		AverageHoldPeriod: hold,
		NetExchange:       exchange,
		TotalBorrowsCount: 1,
	}
}

func hold(v float64) *float64 { return &v }

func TestRankCohort(t *testing.T) {
	cohort := []*membership.Member{
		borrower("a", membership.TierMember, 10, 1, hold(3), 50),
		borrower("b", membership.TierMember, 20, 5, nil, 10),
		borrower("c", membership.TierMember, 5, 9, hold(1), 80),
	}

	scores := RankCohort(cohort)

	a := scores["a"]
	assert.Equal(t, []int{2, 3, 2, 2}, []int{a.C, a.F, a.H, a.E})
	assert.InDelta(t, 2.35, a.Overall, 1e-9)

	assert.Equal(t, 1, scores["b"].C)
	assert.Equal(t, 3, scores["b"].H, "missing hold period ranks last")

	c := scores["c"]
	assert.Equal(t, []int{3, 1, 1, 1}, []int{c.C, c.F, c.H, c.E})
	assert.InDelta(t, 1.4, c.Overall, 1e-9)
}

func TestRankCohortTiesFollowID(t *testing.T) {
	forward := []*membership.Member{
		borrower("x", membership.TierMember, 7, 7, hold(2), 1),
		borrower("y", membership.TierMember, 7, 7, hold(2), 1),
	}
	reversed := []*membership.Member{forward[1], forward[0]}

	assert.Equal(t, RankCohort(forward), RankCohort(reversed))
	assert.Equal(t, 1, RankCohort(forward)["x"].C)
}

func TestRankSeparatesCohorts(t *testing.T) {
	members := []*membership.Member{
		borrower("m1", membership.TierMember, 1, 1, nil, 0),
		borrower("v1", membership.TierVIP, 1, 1, nil, 0),
		borrower("n1", "", 2, 2, nil, 0),
		borrower("a1", membership.TierAdmin, 99, 99, nil, 0),
	}
	idle := borrower("i1", membership.TierMember, 99, 99, nil, 0)
	idle.TotalBorrowsCount = 0
	members = append(members, idle)

	scores := Rank(members)

	assert.Equal(t, 1, scores["v1"].C, "vip ranked alone")
	assert.Equal(t, 1, scores["n1"].C, "missing tier joins the member cohort")
	assert.Equal(t, 2, scores["m1"].C)
	assert.NotContains(t, scores, "a1")
	assert.NotContains(t, scores, "i1")
}

func TestRankUnknownTierJoinsMembers(t *testing.T) {
	scores := Rank([]*membership.Member{
		borrower("a", membership.TierMember, 1, 1, nil, 0),
		borrower("b", "gold", 3, 3, nil, 0),
	})

	require.Contains(t, scores, "b")
	assert.Equal(t, 1, scores["b"].C)
	assert.Equal(t, 2, scores["a"].C)
}

func TestRankProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 25).Draw(t, "n")
		cohort := make([]*membership.Member, n)
		for i := range cohort {
			var h *float64
			if rapid.Bool().Draw(t, "has_hold") {
				h = hold(float64(rapid.IntRange(0, 60).Draw(t, "hold")))
			}
			cohort[i] = borrower(fmt.Sprintf("u%03d", i), membership.TierClient,
				rapid.IntRange(0, 40).Draw(t, "total"),
				rapid.IntRange(0, 40).Draw(t, "fund"),
				h,
				float64(rapid.IntRange(-100, 100).Draw(t, "exchange")),
			)
		}

		scores := RankCohort(cohort)

		// The highest share count ranks first; ties go to the lowest id.
		top := cohort[0]
		for _, m := range cohort {
			if m.TotalShares > top.TotalShares {
				top = m
			}
		}
		if scores[top.ID].C != 1 {
			t.Fatalf("%s holds the most shares (%d) but has C=%d", top.ID, top.TotalShares, scores[top.ID].C)
		}

		seen := map[int]bool{}
		for _, s := range scores {
			if s.C < 1 || s.C > n || seen[s.C] {
				t.Fatalf("C ranks are not a permutation of 1..%d", n)
			}
			seen[s.C] = true
			want := 0.2*float64(s.C) + 0.35*float64(s.F) + 0.1*float64(s.H) + 0.35*float64(s.E)
			if math.Abs(s.Overall-want) > 1e-9 {
				t.Fatalf("overall %v, want %v", s.Overall, want)
			}
		}

		shuffled := make([]*membership.Member, n)
		for i, j := range rapid.Permutation(intsUpTo(n)).Draw(t, "order") {
			shuffled[i] = cohort[j]
		}
		again := RankCohort(shuffled)
		for id, s := range scores {
			if again[id] != s {
				t.Fatalf("scores depend on input order for %s: %+v vs %+v", id, s, again[id])
			}
		}
	})
}

func intsUpTo(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

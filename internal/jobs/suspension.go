package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"membercycle/internal/batch"
	"membercycle/internal/catalog"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

// regularTierFilter matches the tiers eligible for suspension and promotion.
func regularTierFilter() docstore.Filter {
	values := make([]any, len(membership.RegularTiers))
	for i, t := range membership.RegularTiers {
		values[i] = t
	}
	return docstore.In(membership.FieldTier, values...)
}

type suspensionJob struct {
	app    *lifecycle.Applicator
	games  catalog.Service
	now    time.Time
	logger *slog.Logger
}

func (j *suspensionJob) Name() string { return string(KindSuspension) }

func (j *suspensionJob) Query() docstore.Query {
	return docstore.Query{
		Collection: membership.CollectionUsers,
		Filters: []docstore.Filter{
			docstore.Eq(membership.FieldStatus, membership.StatusActive),
			regularTierFilter(),
		},
	}
}

func (j *suspensionJob) Visit(ctx context.Context, doc docstore.Document, run *batch.Run) error {
	m, err := membership.FromDocument(doc)
	if err != nil {
		return err
	}

	suspend, err := j.app.Rules().ShouldSuspend(m, j.now)
	if errors.Is(err, lifecycle.ErrMissingActivityDate) {
		j.logger.Debug("skipping member without activity date", "job", KindSuspension, "member_id", m.ID)
		run.Skip()
		return nil
	}
	if err != nil {
		return err
	}
	if !suspend {
		return nil
	}

	// A failed lookup leaves the member's games unflagged but does not stop
	// the suspension.
	gameIDs, err := j.games.GamesByContributor(ctx, m.ID)
	if err != nil {
		j.logger.Warn("failed to flag contributed games", "job", KindSuspension, "member_id", m.ID, "error", err)
		gameIDs = nil
	}

	writes := j.app.Suspend(m, gameIDs)
	if spilled := run.QueueWithSideEffects(writes[:1], writes[1:]); spilled > 0 {
		j.logger.Warn("game flags exceed one batch, committing separately",
			"job", KindSuspension, "member_id", m.ID, "games", len(gameIDs), "separate", spilled)
	}
	run.AddAmount(amountForfeited, lifecycle.ForfeitedBalance(m))
	return nil
}

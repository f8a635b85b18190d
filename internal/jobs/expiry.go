package jobs

import (
	"context"
	"log/slog"
	"time"

	"membercycle/internal/batch"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

type expiryJob struct {
	app    *lifecycle.Applicator
	now    time.Time
	logger *slog.Logger
}

func (j *expiryJob) Name() string { return string(KindBalanceExpiry) }

func (j *expiryJob) Query() docstore.Query {
	return docstore.Query{
		Collection: membership.CollectionUsers,
		Filters:    []docstore.Filter{docstore.Eq(membership.FieldStatus, membership.StatusActive)},
	}
}

func (j *expiryJob) Visit(ctx context.Context, doc docstore.Document, run *batch.Run) error {
	m, err := membership.FromDocument(doc)
	if err != nil {
		return err
	}

	exp := lifecycle.FindExpired(m, j.now)
	if exp.Empty() {
		return nil
	}

	write, unmapped := j.app.ExpireBalances(m, exp)
	if len(unmapped) > 0 {
		j.logger.Warn("expired balance types without a mapped field",
			"job", KindBalanceExpiry,
			"member_id", m.ID,
			"types", unmapped,
		)
	}

	run.Queue(write)
	run.Add(countExpired, len(exp.Entries))
	run.Add(countUnmapped, len(unmapped))
	run.AddAmount(amountExpired, exp.Total)
	return nil
}

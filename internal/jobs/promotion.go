package jobs

import (
	"context"

	"membercycle/internal/batch"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

type promotionJob struct {
	app     *lifecycle.Applicator
	trigger lifecycle.Trigger
}

func (j *promotionJob) Name() string { return string(KindVIPPromotion) }

func (j *promotionJob) Query() docstore.Query {
	return docstore.Query{
		Collection: membership.CollectionUsers,
		Filters: []docstore.Filter{
			docstore.Eq(membership.FieldStatus, membership.StatusActive),
			regularTierFilter(),
		},
	}
}

func (j *promotionJob) Visit(ctx context.Context, doc docstore.Document, run *batch.Run) error {
	m, err := membership.FromDocument(doc)
	if err != nil {
		return err
	}
	if j.app.Rules().ShouldPromote(m) {
		run.Queue(j.app.Promote(m, j.trigger)...)
	}
	return nil
}

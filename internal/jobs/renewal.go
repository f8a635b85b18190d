package jobs

import (
	"context"

	"membercycle/internal/batch"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

// renewalJob notifies active clients that reached the borrow threshold. A
// client still over the threshold is notified again every week.
type renewalJob struct {
	app *lifecycle.Applicator
}

func (j *renewalJob) Name() string { return string(KindRenewal) }

func (j *renewalJob) Query() docstore.Query {
	return docstore.Query{
		Collection: membership.CollectionUsers,
		Filters: []docstore.Filter{
			docstore.Eq(membership.FieldTier, membership.TierClient),
			docstore.Eq(membership.FieldStatus, membership.StatusActive),
		},
	}
}

func (j *renewalJob) Visit(ctx context.Context, doc docstore.Document, run *batch.Run) error {
	m, err := membership.FromDocument(doc)
	if err != nil {
		return err
	}
	if j.app.Rules().NeedsRenewal(m) {
		run.Queue(j.app.NotifyRenewal(m))
	}
	return nil
}

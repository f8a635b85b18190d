package jobs

import (
	"context"
	"sort"

	"membercycle/internal/batch"
	"membercycle/internal/docstore"
	"membercycle/internal/lifecycle"
	"membercycle/internal/membership"
)

// scoringJob ranks whole cohorts, so it collects the population while
// scanning and writes scores once every page has been read.
type scoringJob struct {
	app     *lifecycle.Applicator
	members []*membership.Member
}

func (j *scoringJob) Name() string { return string(KindScoring) }

func (j *scoringJob) Query() docstore.Query {
	return docstore.Query{
		Collection: membership.CollectionUsers,
		Filters: []docstore.Filter{
			docstore.Eq(membership.FieldStatus, membership.StatusActive),
			docstore.Gt(membership.FieldTotalBorrowsCount, 0),
		},
	}
}

func (j *scoringJob) Visit(ctx context.Context, doc docstore.Document, run *batch.Run) error {
	m, err := membership.FromDocument(doc)
	if err != nil {
		return err
	}
	j.members = append(j.members, m)
	return nil
}

func (j *scoringJob) Finish(ctx context.Context, run *batch.Run) error {
	scores := lifecycle.Rank(j.members)

	ranked := make([]*membership.Member, 0, len(scores))
	for _, m := range j.members {
		if _, ok := scores[m.ID]; ok {
			ranked = append(ranked, m)
		}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].ID < ranked[b].ID })

	for _, m := range ranked {
		run.Queue(j.app.ApplyScores(m, scores[m.ID]))
	}
	return nil
}

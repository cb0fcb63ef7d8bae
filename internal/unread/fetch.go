package unread

import (
	"context"
	"fmt"

	"github.com/moely/inbox/internal/gateway"
	"github.com/moely/inbox/internal/model"
	"golang.org/x/sync/errgroup"
)

// FetchAll tallies every unread row addressed to me across both sources.
func FetchAll(gw gateway.Gateway, me string) Fetch {
	return func(ctx context.Context) (Tally, error) {
		sources := model.Sources()
		results := make([][]gateway.Row, len(sources))
		g, gctx := errgroup.WithContext(ctx)
		for i, src := range sources {
			g.Go(func() error {
				rows, err := gw.Query(gctx, src.Collection, gateway.Query{Filter: src.Unread(me, "")})
				if err != nil {
					return fmt.Errorf("fetch unread %s: %w", src.Collection, err)
				}
				results[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		tally := make(Tally)
		for i, src := range sources {
			addRows(tally, src, results[i])
		}
		return tally, nil
	}
}

// FetchContact tallies the unread rows of one contact.
func FetchContact(gw gateway.Gateway, me string, id model.ContactID) Fetch {
	return func(ctx context.Context) (Tally, error) {
		src := model.SourceFor(id)
		rows, err := gw.Query(ctx, src.Collection, gateway.Query{Filter: src.Unread(me, id)})
		if err != nil {
			return nil, fmt.Errorf("fetch unread %s: %w", id, err)
		}
		tally := make(Tally)
		addRows(tally, src, rows)
		return tally, nil
	}
}

func addRows(t Tally, src model.Source, rows []gateway.Row) {
	for _, r := range rows {
		id := src.ContactOf(r)
		t[id] = append(t[id], src.RowKey(r.String(model.FieldID)))
	}
}

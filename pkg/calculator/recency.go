package calculator

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"lapse-cohort/pkg/models"
)

// AggregateRecency groups events by subscriber and keeps, per subscriber, the event
// with the latest date. Events are sharded by subscriber hash across shards workers;
// every subscriber lands in exactly one shard so the shard results never overlap.
func AggregateRecency(ctx context.Context, events []models.TransactionEvent, ref time.Time, shards int) (map[string]models.RecencyMetric, error) {
	if shards <= 1 || len(events) < shards {
		return aggregateShard(events, ref), nil
	}

	parts := make([][]models.TransactionEvent, shards)
	for _, ev := range events {
		idx := xxhash.Sum64String(ev.SubscriberID) % uint64(shards)
		parts[idx] = append(parts[idx], ev)
	}

	results := make([]map[string]models.RecencyMetric, shards)
	g, gctx := errgroup.WithContext(ctx)
	for i := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = aggregateShard(parts[i], ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]models.RecencyMetric, len(events))
	for _, part := range results {
		for id, m := range part {
			merged[id] = m
		}
	}
	return merged, nil
}

func aggregateShard(events []models.TransactionEvent, ref time.Time) map[string]models.RecencyMetric {
	out := make(map[string]models.RecencyMetric)
	for _, ev := range events {
		cur, ok := out[ev.SubscriberID]
		if ok && !supersedes(ev, cur.Event) {
			continue
		}
		out[ev.SubscriberID] = models.RecencyMetric{
			SubscriberID:  ev.SubscriberID,
			LastEventDate: ev.EventDate,
			ElapsedDays:   elapsedDays(ref, ev.EventDate),
			Event:         ev,
		}
	}
	return out
}

// supersedes orders candidate events of one subscriber: latest date first, then the
// highest amount, then the earliest arrival.
func supersedes(candidate, current models.TransactionEvent) bool {
	if !candidate.EventDate.Equal(current.EventDate) {
		return candidate.EventDate.After(current.EventDate)
	}
	if c := candidate.Amount.Cmp(current.Amount); c != 0 {
		return c > 0
	}
	return candidate.Seq < current.Seq
}

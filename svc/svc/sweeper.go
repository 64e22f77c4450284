package svc

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stashbin/metrics"
	"stashbin/pkg/domain"
	"stashbin/svc/cache"
	"stashbin/svc/store"
	"stashbin/svc/util"
)

// maxSweepBatch bounds the removal work of one cycle. A table larger than
// this is drained over successive ticks.
const maxSweepBatch = 10000

// Sweeper is the background expiry task. Every interval it scans the
// metadata store, removes pastes past their TTL and reconciles zombies:
// metadata whose content is gone is dropped immediately, content whose
// metadata is gone is aged out on its modification time once the default
// TTL has passed (the only created_at substitute still available).
//
// The sweeper shares nothing with request handlers beyond the store APIs.
// It holds no lock across a scan and its deletes are idempotent, so racing
// a user delete for the same id resolves as a no-op on both sides.
type Sweeper struct {
	meta     store.MetadataStore
	content  store.ContentStore
	lru      *cache.LRU
	rdb      *cache.Redis
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// SweepStats summarizes one cycle.
type SweepStats struct {
	Scanned int
	Expired int
	Zombies int
	Orphans int
}

// NewSweeper builds a sweeper. now may be nil, in which case the wall clock
// is used; tests inject their own clock to sweep without real timers.
func NewSweeper(meta store.MetadataStore, content store.ContentStore, interval, maxAge time.Duration, now func() time.Time) *Sweeper {
	if meta == nil || content == nil {
		panic("sweeper: nil store")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		meta:     meta,
		content:  content,
		interval: interval,
		maxAge:   maxAge,
		now:      now,
	}
}

// SetCaches attaches the cache tiers so swept pastes are dropped from them
// as well; without this a removed paste could be served from cache until
// its entry expired on its own. Either tier may be nil.
func (s *Sweeper) SetCaches(lru *cache.LRU, rdb *cache.Redis) {
	s.lru = lru
	s.rdb = rdb
}

// Run loops until ctx is cancelled. A failed cycle is logged and retried at
// the next tick; the sweeper never takes the process down.
func (s *Sweeper) Run(ctx context.Context) {
	requestID := util.NewRequestID()
	util.Info().
		Str("request_id", requestID).
		Dur("interval", s.interval).
		Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		stats, err := s.Sweep(ctx)
		if err != nil {
			util.Error().
				Err(err).
				Str("request_id", requestID).
				Msg("sweep failed")
		} else if stats.Expired > 0 || stats.Zombies > 0 || stats.Orphans > 0 {
			util.Info().
				Int("scanned", stats.Scanned).
				Int("expired", stats.Expired).
				Int("zombies", stats.Zombies).
				Int("orphans", stats.Orphans).
				Str("request_id", requestID).
				Msg("sweep completed")
		}
		select {
		case <-ctx.Done():
			util.Info().Str("request_id", requestID).Msg("sweeper shutting down")
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs a single cycle. Records created after the scan started are
// left alone by construction: the snapshot predates them, so scan latency
// can never make a fresh paste look old.
//
// The scan is fully drained and the cursor closed before any delete is
// issued. Writing through the open cursor locks up SQLite shared-cache
// connections, and interleaving would make the walk order depend on the
// deletes.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	start := s.now()
	seen := make(map[string]struct{})

	batch := make([]domain.PasteRecord, 0, 256)
	it, err := s.meta.List(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list metadata")
	}
	for it.Next() {
		rec := it.Record()
		stats.Scanned++
		seen[rec.ID] = struct{}{}
		if rec.CreatedAt.After(start) {
			continue
		}
		if len(batch) < maxSweepBatch {
			batch = append(batch, *rec)
		}
	}
	if err := it.Err(); err != nil {
		it.Close()
		return stats, errors.Wrap(err, "scan metadata")
	}
	if err := it.Close(); err != nil {
		return stats, errors.Wrap(err, "close scan")
	}

	failed := 0
	for i := range batch {
		rec := &batch[i]
		exists, err := s.content.Exists(ctx, rec.ID)
		if err != nil {
			util.Warn().Err(err).Str("id", rec.ID).Msg("content check failed, skipping")
			failed++
			continue
		}
		if !exists {
			// Metadata without content. Purge regardless of TTL.
			if _, err := s.meta.DeleteByID(ctx, rec.ID); err != nil {
				util.Warn().Err(err).Str("id", rec.ID).Msg("zombie metadata delete failed")
				failed++
				continue
			}
			stats.Zombies++
			metrics.ZombiesReconciled.Inc()
			s.invalidate(ctx, rec.ID)
			util.Info().Str("id", rec.ID).Msg("reconciled zombie metadata")
			continue
		}
		if rec.Expired(start) {
			if _, err := s.content.Delete(ctx, rec.ID); err != nil {
				util.Warn().Err(err).Str("id", rec.ID).Msg("expired content delete failed")
				failed++
				continue
			}
			if _, err := s.meta.DeleteByID(ctx, rec.ID); err != nil {
				util.Warn().Err(err).Str("id", rec.ID).Msg("expired metadata delete failed")
				failed++
				continue
			}
			stats.Expired++
			metrics.ExpiredRemoved.Inc()
			s.invalidate(ctx, rec.ID)
		}
	}

	orphans, err := s.sweepOrphans(ctx, start, seen)
	stats.Orphans = orphans
	if err != nil {
		return stats, err
	}
	if failed > 0 {
		// The cycle is not clean: the records are still there and the
		// next tick must retry them.
		return stats, errors.Errorf("sweep left %d of %d records unprocessed", failed, len(batch))
	}
	metrics.SweepCycles.Inc()
	return stats, nil
}

// sweepOrphans removes content blobs that no metadata row references. A
// fresh blob may simply be a create in flight (content is written before
// metadata), so only blobs older than maxAge go; their modification time
// stands in for the created_at that vanished with the metadata.
func (s *Sweeper) sweepOrphans(ctx context.Context, start time.Time, seen map[string]struct{}) (int, error) {
	infos, err := s.content.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list content")
	}
	removed := 0
	for _, info := range infos {
		if _, ok := seen[info.ID]; ok {
			continue
		}
		if !domain.ValidID(info.ID) {
			continue
		}
		if start.Sub(info.ModTime) <= s.maxAge {
			continue
		}
		if _, err := s.content.Delete(ctx, info.ID); err != nil {
			util.Warn().Err(err).Str("id", info.ID).Msg("orphan content delete failed")
			continue
		}
		removed++
		metrics.ZombiesReconciled.Inc()
		s.invalidate(ctx, info.ID)
		util.Info().Str("id", info.ID).Msg("aged out orphan content")
	}
	return removed, nil
}

func (s *Sweeper) invalidate(ctx context.Context, id string) {
	if s.lru != nil {
		s.lru.Delete(id)
	}
	if s.rdb != nil {
		if err := s.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("cache invalidation failed")
		}
	}
}

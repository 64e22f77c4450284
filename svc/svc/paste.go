package svc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"time"

	"github.com/pkg/errors"

	"stashbin/cfg"
	"stashbin/metrics"
	"stashbin/pkg/domain"
	"stashbin/svc/cache"
	"stashbin/svc/store"
	"stashbin/svc/util"
)

// Paste orchestrates the generator and both stores for create, retrieve and
// delete. It is the only component request handlers talk to. The cache tiers
// are accelerators: every answer they give could also be served from the
// stores.
type Paste struct {
	meta    store.MetadataStore
	content store.ContentStore
	lru     *cache.LRU
	rdb     *cache.Redis
	cfg     *cfg.Cfg
}

func NewPaste(meta store.MetadataStore, content store.ContentStore, lru *cache.LRU, rdb *cache.Redis, c *cfg.Cfg) *Paste {
	if meta == nil || content == nil || c == nil {
		panic("paste service: nil dependency (meta, content, or cfg)")
	}
	return &Paste{
		meta:    meta,
		content: content,
		lru:     lru,
		rdb:     rdb,
		cfg:     c,
	}
}

// Create streams up to length bytes from r into the content store, then
// records metadata. The declared length is checked against the ceiling
// before a single byte is read. Content is persisted before metadata: a
// crash between the two writes leaves an orphaned blob the sweeper can age
// out, never metadata pointing at nothing.
func (p *Paste) Create(ctx context.Context, r io.Reader, length int64) (*domain.CreateResult, error) {
	if length <= 0 {
		return nil, domain.ErrContentRequired
	}
	if length > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	id, err := util.GenUniqueID(func(id string) (bool, error) {
		_, err := p.meta.FindByID(ctx, id)
		if errors.Is(err, domain.ErrPasteNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		// Exhausted retries carry ErrIDGenerationFailed; a store error
		// keeps its own mapping (an open circuit must answer 503, not 500).
		return nil, errors.Wrap(err, "allocate id")
	}
	key, err := util.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}

	if err := p.content.Put(ctx, id, r, p.cfg.MaxPasteSize); err != nil {
		return nil, errors.Wrap(err, "persist content")
	}
	rec := &domain.PasteRecord{
		ID:        id,
		Key:       key,
		TTL:       int64(p.cfg.DefaultTTL / time.Second),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.meta.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A racing create claimed the same id between our existence
			// check and the insert. Re-home the blob under a fresh id and
			// try the insert again.
			return p.rehome(ctx, rec)
		}
		return nil, errors.Wrap(err, "persist metadata")
	}
	metrics.PasteCreated.Inc()
	return &domain.CreateResult{
		ID:   id,
		Key:  rec.Key,
		TTL:  rec.TTL,
		Link: p.cfg.BaseURL + "/" + id,
	}, nil
}

// rehome recovers from a lost id race: the inbound stream is already spent,
// so the blob we just wrote is read back and re-persisted under new ids
// until a metadata insert sticks.
func (p *Paste) rehome(ctx context.Context, rec *domain.PasteRecord) (*domain.CreateResult, error) {
	data, err := p.content.Get(ctx, rec.ID)
	if err != nil {
		return nil, errors.Wrap(err, "read back content")
	}
	for retry := 0; retry < 5; retry++ {
		id, err := util.GenerateID()
		if err != nil {
			return nil, errors.Wrap(err, "regenerate id")
		}
		if err := p.content.Put(ctx, id, bytes.NewReader(data), p.cfg.MaxPasteSize); err != nil {
			return nil, errors.Wrap(err, "re-persist content")
		}
		rec.ID = id
		err = p.meta.Create(ctx, rec)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "persist metadata")
		}
		metrics.PasteCreated.Inc()
		return &domain.CreateResult{
			ID:   id,
			Key:  rec.Key,
			TTL:  rec.TTL,
			Link: p.cfg.BaseURL + "/" + id,
		}, nil
	}
	return nil, domain.ErrIDGenerationFailed
}

// Retrieve returns the raw content for id, or ErrPasteNotFound for unknown,
// expired, and half-deleted pastes alike. Malformed ids fail before any
// store access.
func (p *Paste) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if !domain.ValidID(id) {
		return nil, domain.ErrInvalidID
	}
	if p.lru != nil {
		if content, ok := p.lru.Get(id); ok {
			metrics.CacheHits.Inc()
			metrics.PasteRetrieved.Inc()
			return content, nil
		}
		metrics.CacheMisses.Inc()
	}
	if p.rdb != nil {
		if content, err := p.rdb.GetContent(ctx, id); err == nil && content != nil {
			metrics.CacheHits.Inc()
			metrics.PasteRetrieved.Inc()
			return content, nil
		}
	}
	rec, err := p.meta.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get metadata")
	}
	now := time.Now()
	if rec.Expired(now) {
		// Past its TTL but not yet swept. Never serve it; removal is the
		// sweeper's job.
		return nil, domain.ErrPasteNotFound
	}
	content, err := p.content.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get content")
	}
	ttl := rec.ExpiresAt().Sub(now)
	if p.lru != nil {
		p.lru.Set(id, content, ttl)
	}
	if p.rdb != nil {
		if err := p.rdb.CacheContent(ctx, id, content, ttl); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in redis")
		}
	}
	metrics.PasteRetrieved.Inc()
	return content, nil
}

// Delete removes a paste when the caller presents its deletion key. Unknown
// ids, malformed ids and wrong keys all produce the same ErrInvalidIDOrKey
// so the endpoint is not an existence oracle. The key comparison is
// constant time: the key is a bearer credential.
func (p *Paste) Delete(ctx context.Context, id, key string) error {
	if !domain.ValidID(id) || key == "" {
		return domain.ErrInvalidIDOrKey
	}
	rec, err := p.meta.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return domain.ErrInvalidIDOrKey
		}
		return errors.Wrap(err, "lookup metadata")
	}
	if subtle.ConstantTimeCompare([]byte(rec.Key), []byte(key)) != 1 {
		util.Warn().
			Str("id", id).
			Str("key", util.RedactKey(key)).
			Msg("delete rejected, key mismatch")
		return domain.ErrInvalidIDOrKey
	}
	if _, err := p.content.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete content")
	}
	if _, err := p.meta.DeleteByID(ctx, id); err != nil {
		return errors.Wrap(err, "delete metadata")
	}
	if p.lru != nil {
		p.lru.Delete(id)
	}
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
	metrics.PasteDeleted.Inc()
	util.Info().Str("id", id).Msg("paste deleted via key")
	return nil
}

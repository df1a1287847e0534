package creditline

import (
	"context"
	"errors"

	"github.com/xraph/creditline/publication"
)

// DefaultPublicationLimit caps listings when the caller asks for no limit.
const DefaultPublicationLimit = 100

// PublishedImages returns up to limit published images, newest first.
func (l *Ledger) PublishedImages(ctx context.Context, limit int) ([]publication.Entry, error) {
	if limit <= 0 {
		limit = DefaultPublicationLimit
	}

	if l.cache != nil {
		entries, ok, err := l.cache.Load(ctx, limit)
		switch {
		case err != nil:
			l.logger.Warn("publication cache load failed", "error", err)
		case ok:
			return entries, nil
		}
	}

	entries := make([]publication.Entry, 0, min(limit, DefaultPublicationLimit))
	err := l.store.ScanPublished(ctx, func(e publication.Entry) error {
		entries = append(entries, e)
		if len(entries) >= limit {
			return publication.ErrStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, publication.ErrStop) {
		return nil, persistErr("scan published", err)
	}

	if l.cache != nil {
		if err := l.cache.Save(ctx, limit, entries); err != nil {
			l.logger.Warn("publication cache save failed", "error", err)
		}
	}
	return entries, nil
}

// PublishedByPublisher groups the newest limit images by publisher,
// ordered by each publisher's most recent image.
func (l *Ledger) PublishedByPublisher(ctx context.Context, limit int) ([]publication.PublisherGroup, error) {
	entries, err := l.PublishedImages(ctx, limit)
	if err != nil {
		return nil, err
	}
	return publication.GroupByPublisher(entries), nil
}

func (l *Ledger) invalidatePublished(ctx context.Context) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx); err != nil {
		l.logger.Warn("publication cache invalidate failed", "error", err)
	}
}

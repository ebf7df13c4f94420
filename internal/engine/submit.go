package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/wire"
)

// Candidate is a submitted item as the client describes it. Any device
// fields a client sends are ignored; the origin comes from the Session.
type Candidate struct {
	ID       string  `json:"id"`
	Kind     string  `json:"type"`
	Content  string  `json:"value"`
	Group    string  `json:"group"`
	Search   string  `json:"search"`
	Subtype  string  `json:"subtype"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FileName string  `json:"file_name"`
	Count    int     `json:"count"`
	Favorite bool    `json:"favorite"`
	Note     *string `json:"note"`
}

// Outcome reports what Submit did.
type Outcome struct {
	Item         *domain.Item
	Deduplicated bool
	// SyncedTo is the number of peers online when the broadcast was queued.
	SyncedTo int
	// Evicted counts items removed by retention after an insert.
	Evicted int
}

func (c *Candidate) validate() (domain.Kind, error) {
	kind, ok := domain.ParseKind(c.Kind)
	if !ok {
		return "", domain.Validation("type must be one of text, html, rtf, image, files")
	}
	if strings.TrimSpace(c.Content) == "" {
		return "", domain.Validation("value is required")
	}
	if c.ID != "" && !domain.ValidID(c.ID) {
		return "", domain.Validation("id must be %d characters of [A-Za-z0-9_-]", domain.IDLength)
	}
	if c.Width < 0 || c.Height < 0 || c.Count < 0 {
		return "", domain.Validation("width, height and count must not be negative")
	}
	return kind, nil
}

// Submit stores c for the session's owner, or refreshes the existing item
// with the same fingerprint. The store is written before any broadcast is
// queued; retention runs afterwards and never fails the submit.
func (e *Engine) Submit(ctx context.Context, s Session, c Candidate) (*Outcome, error) {
	kind, err := c.validate()
	if err != nil {
		return nil, err
	}

	fp := e.fp.Compute(ctx, kind, c.Content)

	id := c.ID
	if id == "" {
		if id, err = e.newID(); err != nil {
			return nil, domain.Internal(err, "failed to generate item id")
		}
	}

	for attempt := 0; attempt < insertAttempts; attempt++ {
		out, err := e.refresh(ctx, s, fp.Hash)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, storeErr(err, "failed to look up duplicate")
		}

		now := e.clock.Now()
		it := &domain.Item{
			ID:               id,
			Owner:            s.Owner,
			Kind:             kind,
			Content:          c.Content,
			Fingerprint:      fp.Hash,
			Group:            c.Group,
			Search:           c.Search,
			Subtype:          c.Subtype,
			Width:            c.Width,
			Height:           c.Height,
			FileName:         c.FileName,
			Count:            c.Count,
			Favorite:         c.Favorite,
			Note:             c.Note,
			OriginDevice:     s.DeviceID,
			OriginDeviceName: s.DeviceName,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if it.Group == "" {
			it.Group = string(kind)
		}

		err = e.store.Insert(ctx, it)
		switch {
		case err == nil:
			return e.inserted(ctx, s, it), nil
		case errors.Is(err, domain.ErrFingerprintTaken):
			// Lost the race to a concurrent identical submit: go round
			// again and take the dedup path.
			e.logger.Debug("concurrent insert of identical content, deduplicating",
				logger.Owner(s.Owner),
				logger.Device(s.DeviceID))
			continue
		case errors.Is(err, domain.ErrIDTaken):
			return nil, domain.Conflict(err, "item id %s is already in use", id)
		default:
			return nil, storeErr(err, "failed to store item")
		}
	}

	return nil, domain.Conflict(domain.ErrFingerprintTaken, "item is being modified concurrently, retry")
}

// refresh moves the item holding fingerprint to the top of the history.
// It returns ErrNotFound when there is nothing to refresh.
func (e *Engine) refresh(ctx context.Context, s Session, fingerprint string) (*Outcome, error) {
	existing, err := e.store.FindByFingerprint(ctx, s.Owner, fingerprint)
	if err != nil {
		return nil, err
	}

	touched, err := e.store.Touch(ctx, s.Owner, existing.ID, e.clock.Now())
	if err != nil {
		return nil, err
	}

	e.broadcast(s.Owner, s.DeviceID, wire.EventTimestampUpdated, wire.TimestampUpdated{
		ID:           touched.ID,
		CreatedAt:    touched.CreatedAt,
		UpdatedAt:    touched.UpdatedAt,
		OriginDevice: s.DeviceID,
	})
	e.logger.Debug("duplicate content, timestamp refreshed",
		logger.Owner(s.Owner),
		logger.Device(s.DeviceID),
		logger.ItemID(touched.ID))

	return &Outcome{Item: touched, Deduplicated: true, SyncedTo: e.peers(s.Owner, s.DeviceID)}, nil
}

func (e *Engine) inserted(ctx context.Context, s Session, it *domain.Item) *Outcome {
	e.broadcast(s.Owner, s.DeviceID, wire.EventItemCreated, it.Clone())
	e.logger.Debug("item stored",
		logger.Owner(s.Owner),
		logger.Device(s.DeviceID),
		logger.ItemID(it.ID),
		logger.String("kind", string(it.Kind)))

	out := &Outcome{Item: it, SyncedTo: e.peers(s.Owner, s.DeviceID)}

	evicted, err := e.EnforceRetention(ctx, s.Owner, e.maxItems(s.Owner))
	if err != nil {
		e.logger.Warn("retention enforcement failed",
			logger.Owner(s.Owner),
			logger.Device(s.DeviceID),
			logger.Action(wire.ActionSubmitItem),
			logger.Error(err))
	}
	out.Evicted = evicted
	return out
}

// EnforceRetention deletes owner's oldest items beyond maxItems, releases
// their payloads and tells every device which ids went away.
func (e *Engine) EnforceRetention(ctx context.Context, owner string, maxItems int) (int, error) {
	if maxItems <= 0 {
		return 0, nil
	}

	removed, err := e.store.TrimTo(ctx, owner, maxItems)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}

	sys := Session{Owner: owner}
	e.releaseFiles(ctx, sys, "retention", removed)
	e.broadcast(owner, "", wire.EventItemsDeletedBatch, wire.ItemsDeletedBatch{
		IDs:   ids(removed),
		Count: len(removed),
	})

	e.logger.Info("retention evicted oldest items",
		logger.Owner(owner),
		logger.Int("evicted", len(removed)),
		logger.Int("max_items", maxItems))
	return len(removed), nil
}

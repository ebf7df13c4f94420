package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/wire"
)

// ClearResult reports what ClearHistory removed.
type ClearResult struct {
	DeletedItems int `json:"deleted_count"`
	DeletedFiles int `json:"deleted_files"`
}

// Delete removes one of the owner's items.
func (e *Engine) Delete(ctx context.Context, s Session, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Validation("id is required")
	}

	removed, err := e.store.Delete(ctx, s.Owner, []string{id})
	if err != nil {
		return domain.Internal(err, "failed to delete item")
	}
	if len(removed) == 0 {
		return domain.NotFound("item %s not found", id)
	}

	e.releaseFiles(ctx, s, wire.ActionDeleteItem, removed)
	e.broadcast(s.Owner, s.DeviceID, wire.EventItemDeleted, wire.ItemDeleted{ID: id})
	return nil
}

// DeleteBatch removes the listed items the owner possesses and returns the
// ids actually removed. Unknown ids are skipped.
func (e *Engine) DeleteBatch(ctx context.Context, s Session, itemIDs []string) ([]string, error) {
	clean := make([]string, 0, len(itemIDs))
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil, domain.Validation("ids must not be empty")
	}
	if len(clean) > MaxBatchSize {
		return nil, domain.Validation("at most %d ids per batch", MaxBatchSize)
	}

	removed, err := e.store.Delete(ctx, s.Owner, clean)
	if err != nil {
		return nil, domain.Internal(err, "failed to delete items")
	}

	gone := ids(removed)
	if len(gone) > 0 {
		e.releaseFiles(ctx, s, wire.ActionDeleteItemsBatch, removed)
		e.broadcast(s.Owner, s.DeviceID, wire.EventItemsDeletedBatch, wire.ItemsDeletedBatch{
			IDs:   gone,
			Count: len(gone),
		})
	}
	return gone, nil
}

// UpdateFields applies allow-listed metadata edits to an item.
func (e *Engine) UpdateFields(ctx context.Context, s Session, id string, raw map[string]json.RawMessage) (*domain.Item, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validation("id is required")
	}
	updates, err := domain.ParseUpdates(raw)
	if err != nil {
		return nil, err
	}

	it, err := e.store.Get(ctx, s.Owner, id)
	if err != nil {
		return nil, storeErr(err, "failed to load item")
	}

	updates.Apply(it)
	it.UpdatedAt = e.clock.Now()
	if err := e.store.SaveMeta(ctx, it); err != nil {
		return nil, storeErr(err, "failed to update item")
	}

	e.broadcast(s.Owner, s.DeviceID, wire.EventItemUpdated, wire.ItemUpdated{
		ID:        it.ID,
		Fields:    updates.Values(),
		UpdatedAt: it.UpdatedAt,
	})
	e.logger.Debug("item fields updated",
		logger.Owner(s.Owner),
		logger.Device(s.DeviceID),
		logger.ItemID(it.ID),
		logger.Strings("fields", updates.Fields()))
	return it, nil
}

// ClearHistory removes every item of the owner. confirm must be set.
func (e *Engine) ClearHistory(ctx context.Context, s Session, confirm bool) (*ClearResult, error) {
	if !confirm {
		return nil, &domain.Error{
			Code:    domain.CodeConfirmationRequired,
			Message: "clearing history requires confirm=true",
		}
	}

	removed, err := e.store.DeleteAll(ctx, s.Owner)
	if err != nil {
		return nil, domain.Internal(err, "failed to clear history")
	}

	res := &ClearResult{
		DeletedItems: len(removed),
		DeletedFiles: e.releaseFiles(ctx, s, wire.ActionClearAllHistory, removed),
	}
	e.broadcast(s.Owner, s.DeviceID, wire.EventHistoryCleared, wire.HistoryCleared{
		DeletedCount: res.DeletedItems,
		OriginDevice: s.DeviceID,
	})
	e.logger.Info("history cleared",
		logger.Owner(s.Owner),
		logger.Device(s.DeviceID),
		logger.Int("deleted_items", res.DeletedItems),
		logger.Int("deleted_files", res.DeletedFiles))
	return res, nil
}

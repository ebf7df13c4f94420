package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/wire"
)

// Request payloads.
type (
	idData struct {
		ID string `json:"id"`
	}
	idsData struct {
		IDs []string `json:"ids"`
	}
	updateData struct {
		ID     string                     `json:"id"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	historyData struct {
		Since  time.Time `json:"since"`
		Limit  int       `json:"limit"`
		Offset int       `json:"offset"`
	}
	pageData struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	confirmData struct {
		Confirm bool `json:"confirm"`
	}
	cursorData struct {
		Cursor time.Time `json:"last_sync_time"`
	}
)

// Response payloads.
type (
	submitResult struct {
		Item     *domain.Item `json:"item"`
		SyncedTo int          `json:"synced_to"`
	}
	batchResult struct {
		IDs   []string `json:"ids"`
		Count int      `json:"count"`
	}
	onlineResult struct {
		Devices []string `json:"devices"`
		Count   int      `json:"count"`
	}
	pongResult struct {
		ServerTime time.Time `json:"server_time"`
	}
	cursorResult struct {
		Cursor time.Time `json:"last_sync_time"`
	}
)

// decode unmarshals a request payload. A missing payload leaves v zero.
func decode(req wire.Request, v any) error {
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return domain.Validation("invalid data for %s", req.Action)
	}
	return nil
}

// dispatch runs one request and builds its single response.
func (s *Server) dispatch(ctx context.Context, sess engine.Session, req wire.Request, log logger.Logger) wire.Response {
	resp, err := s.handle(ctx, sess, req)
	if err != nil {
		code := domain.CodeOf(err)
		if code == domain.CodeInternal {
			log.Error("request failed",
				logger.Action(req.Action),
				logger.String("request_id", req.RequestID),
				logger.Error(err))
		} else {
			log.Debug("request rejected",
				logger.Action(req.Action),
				logger.String("code", string(code)),
				logger.Error(err))
		}
		return wire.Fail(req.RequestID, err)
	}
	return resp
}

func (s *Server) handle(ctx context.Context, sess engine.Session, req wire.Request) (wire.Response, error) {
	switch req.Action {
	case wire.ActionSubmitItem:
		var c engine.Candidate
		if err := decode(req, &c); err != nil {
			return wire.Response{}, err
		}
		out, err := s.engine.Submit(ctx, sess, c)
		if err != nil {
			return wire.Response{}, err
		}
		typ := wire.TypeItemSubmitted
		if out.Deduplicated {
			typ = wire.TypeItemDeduplicated
		}
		return wire.Reply(req, typ, submitResult{Item: out.Item, SyncedTo: out.SyncedTo}), nil

	case wire.ActionDeleteItem:
		var d idData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		if err := s.engine.Delete(ctx, sess, d.ID); err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeDeleteConfirmed, d), nil

	case wire.ActionDeleteItemsBatch:
		var d idsData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		gone, err := s.engine.DeleteBatch(ctx, sess, d.IDs)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeDeleteBatchConfirmed, batchResult{IDs: gone, Count: len(gone)}), nil

	case wire.ActionUpdateItemFields:
		var d updateData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		it, err := s.engine.UpdateFields(ctx, sess, d.ID, d.Fields)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeUpdateConfirmed, it), nil

	case wire.ActionFetchHistory:
		var d historyData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		page, err := s.engine.FetchHistory(ctx, sess, d.Since, d.Limit, d.Offset)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeHistoryData, page), nil

	case wire.ActionClearAllHistory:
		var d confirmData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		res, err := s.engine.ClearHistory(ctx, sess, d.Confirm)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeClearConfirmed, res), nil

	case wire.ActionListOnlineDevices:
		online := s.engine.ListOnline(sess.Owner)
		return wire.Reply(req, wire.TypeOnlineDevices, onlineResult{Devices: online, Count: len(online)}), nil

	case wire.ActionPing:
		return wire.Reply(req, wire.TypePong, pongResult{ServerTime: time.Now().UTC()}), nil

	case wire.ActionFetchUpdates:
		var d pageData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		page, err := s.engine.FetchUpdates(ctx, sess, d.Limit, d.Offset)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeUpdatesData, page), nil

	case wire.ActionAckSyncCursor:
		var d cursorData
		if err := decode(req, &d); err != nil {
			return wire.Response{}, err
		}
		cursor, err := s.engine.AckSyncCursor(ctx, sess, d.Cursor)
		if err != nil {
			return wire.Response{}, err
		}
		return wire.Reply(req, wire.TypeCursorAcked, cursorResult{Cursor: cursor}), nil

	default:
		return wire.Response{}, &domain.Error{
			Code:    domain.CodeUnknownAction,
			Message: "unknown action " + req.Action,
		}
	}
}

// Package wire defines the envelopes exchanged over the live channel.
//
// Clients send requests {action, request_id, data}. Every request gets
// exactly one response {type, request_id, data}. Server-initiated events
// carry {type, data} and never a request_id.
package wire

import (
	"encoding/json"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
)

// Actions a client may send.
const (
	ActionSubmitItem        = "submit-item"
	ActionDeleteItem        = "delete-item"
	ActionDeleteItemsBatch  = "delete-items-batch"
	ActionUpdateItemFields  = "update-item-fields"
	ActionFetchHistory      = "fetch-history"
	ActionClearAllHistory   = "clear-all-history"
	ActionListOnlineDevices = "list-online-devices"
	ActionPing              = "ping"
	ActionFetchUpdates      = "fetch-updates"
	ActionAckSyncCursor     = "ack-sync-cursor"
)

// Response types.
const (
	TypeConnected            = "connected"
	TypeItemSubmitted        = "item-submitted"
	TypeItemDeduplicated     = "item-deduplicated"
	TypeDeleteConfirmed      = "delete-confirmed"
	TypeDeleteBatchConfirmed = "delete-batch-confirmed"
	TypeUpdateConfirmed      = "update-confirmed"
	TypeHistoryData          = "history-data"
	TypeClearConfirmed       = "clear-confirmed"
	TypeOnlineDevices        = "online-devices"
	TypePong                 = "pong"
	TypeUpdatesData          = "updates-data"
	TypeCursorAcked          = "cursor-acked"
	TypeError                = "error"
)

// Broadcast event types.
const (
	EventItemCreated       = "item-created"
	EventTimestampUpdated  = "timestamp-updated"
	EventItemUpdated       = "item-updated"
	EventItemDeleted       = "item-deleted"
	EventItemsDeletedBatch = "items-deleted-batch"
	EventHistoryCleared    = "history-cleared"
	EventDeviceOffline     = "device-offline"
)

// Request is a client envelope.
type Request struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Event is a server-initiated broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorData is the payload of an error response.
type ErrorData struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// Reply builds a response correlated with req.
func Reply(req Request, typ string, data any) Response {
	return Response{Type: typ, RequestID: req.RequestID, Data: data}
}

// Fail builds an error response for req. Internal details are not echoed.
func Fail(requestID string, err error) Response {
	return Response{
		Type:      TypeError,
		RequestID: requestID,
		Data:      ErrorData{Code: domain.CodeOf(err), Message: domain.MessageOf(err)},
	}
}

// ─────────────────────────────────────────────────────────────────
// Event payloads
// ─────────────────────────────────────────────────────────────────

// TimestampUpdated tells peers an existing item moved to the top.
type TimestampUpdated struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createTime"`
	UpdatedAt    time.Time `json:"updated_at"`
	OriginDevice string    `json:"device_id"`
}

// ItemUpdated carries the edited metadata fields only.
type ItemUpdated struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ItemDeleted struct {
	ID string `json:"id"`
}

type ItemsDeletedBatch struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

type HistoryCleared struct {
	DeletedCount int    `json:"deleted_count"`
	OriginDevice string `json:"device_id"`
}

type DeviceOffline struct {
	DeviceID    string `json:"device_id"`
	OnlineCount int    `json:"online_count"`
}

// NewEvent wraps data in an event envelope.
func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data}
}

package handler

import (
	"net/http"
	"strconv"

	"traitfusion-api/internal/notify"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// EventHandler serves the change-notification history.
type EventHandler struct {
	feed       notify.Feed
	collection string
}

// NewEventHandler creates a new event handler.
func NewEventHandler(feed notify.Feed, collection string) *EventHandler {
	return &EventHandler{feed: feed, collection: collection}
}

func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// List handles GET /api/v1/events
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, 0)
}

// ListForItem handles GET /api/v1/items/{id}/events
func (h *EventHandler) ListForItem(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	h.list(w, r, itemID)
}

func (h *EventHandler) list(w http.ResponseWriter, r *http.Request, itemID uint64) {
	if h.feed == nil {
		response.Error(w, apierror.ServiceUnavailable("event feed not configured"))
		return
	}

	page, limit := pagination(r)
	events, total, err := h.feed.Recent(r.Context(), notify.EventQuery{
		Collection: h.collection,
		ItemID:     itemID,
		Limit:      limit,
		Offset:     (page - 1) * limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Page(w, events, page, limit, total)
}

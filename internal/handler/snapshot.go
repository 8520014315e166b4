package handler

import (
	"net/http"

	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/response"
)

// SnapshotHandler serves snapshots and bridge transfers.
type SnapshotHandler struct {
	snapshots *service.SnapshotService
}

// NewSnapshotHandler creates a new snapshot handler.
func NewSnapshotHandler(snapshots *service.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

// Create handles POST /api/v1/items/{id}/snapshot
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	snap, err := h.snapshots.CreateSnapshot(r.Context(), caller(r), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, snap)
}

// Get handles GET /api/v1/items/{id}/snapshot
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	snap, err := h.snapshots.GetSnapshot(r.Context(), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, snap)
}

// Verify handles GET /api/v1/items/{id}/snapshot/verify
func (h *SnapshotHandler) Verify(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	valid, snap, err := h.snapshots.VerifySnapshot(r.Context(), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id": itemID,
		"valid":   valid,
		"hash":    snap.Hash,
	})
}

// TransferRequest is the body of POST /api/v1/items/{id}/transfer.
type TransferRequest struct {
	Destination string `json:"destination"`
	TargetChain string `json:"target_chain"`
}

// Transfer handles POST /api/v1/items/{id}/transfer
func (h *SnapshotHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	var req TransferRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	snap, err := h.snapshots.InitiateTransfer(r.Context(), caller(r), service.TransferRequest{
		ItemID:      itemID,
		Destination: req.Destination,
		TargetChain: req.TargetChain,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]interface{}{
		"item_id":      itemID,
		"destination":  req.Destination,
		"target_chain": req.TargetChain,
		"hash":         snap.Hash,
		"status":       "initiated",
	})
}

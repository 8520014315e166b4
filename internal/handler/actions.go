package handler

import (
	"net/http"

	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// ActionHandler serves the player actions of the game engine.
type ActionHandler struct {
	engine *service.Engine
}

// NewActionHandler creates a new action handler.
func NewActionHandler(engine *service.Engine) *ActionHandler {
	return &ActionHandler{engine: engine}
}

// Fight handles POST /api/v1/items/{id}/fight
func (h *ActionHandler) Fight(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	result, err := h.engine.Fight(r.Context(), caller(r), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, result)
}

// UsePotion handles POST /api/v1/items/{id}/potion
func (h *ActionHandler) UsePotion(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	energy, err := h.engine.UsePotion(r.Context(), caller(r), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id": itemID,
		"energy":  energy,
		"cost":    h.engine.Config().PotionCost,
	})
}

// EnterZoneRequest is the body of POST /api/v1/items/{id}/zone.
type EnterZoneRequest struct {
	Zone string `json:"zone"`
}

// EnterZone handles POST /api/v1/items/{id}/zone
func (h *ActionHandler) EnterZone(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	var req EnterZoneRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	affinity, err := h.engine.EnterZone(r.Context(), caller(r), itemID, req.Zone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id":          itemID,
		"zone":             req.Zone,
		"element_affinity": affinity,
	})
}

// OpenLootBox handles POST /api/v1/items/{id}/lootbox
func (h *ActionHandler) OpenLootBox(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	requestID, err := h.engine.OpenLootBox(r.Context(), caller(r), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]interface{}{
		"item_id":    itemID,
		"request_id": requestID,
		"cost":       h.engine.Config().LootBoxCost,
	})
}

// StartQuestRequest is the body of POST /api/v1/items/{id}/quests.
type StartQuestRequest struct {
	QuestID string `json:"quest_id"`
}

// StartQuest handles POST /api/v1/items/{id}/quests
func (h *ActionHandler) StartQuest(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	var req StartQuestRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.QuestID == "" {
		response.Error(w, apierror.ValidationError("quest_id is required",
			apierror.FieldError{Field: "quest_id", Message: "required"}))
		return
	}

	if err := h.engine.StartQuest(r.Context(), caller(r), itemID, req.QuestID); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id":  itemID,
		"quest_id": req.QuestID,
		"status":   "started",
	})
}

// CompleteQuest handles POST /api/v1/items/{id}/quests/complete
func (h *ActionHandler) CompleteQuest(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	questID, err := h.engine.CompleteQuest(r.Context(), caller(r), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id":  itemID,
		"quest_id": questID,
		"status":   "completed",
		"reward":   h.engine.Config().QuestReward,
	})
}

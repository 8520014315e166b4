package handler

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// OracleHandler serves oracle requests and the fulfillment callbacks of the
// oracle and randomness transports.
type OracleHandler struct {
	adapter *service.OracleAdapter
	engine  *service.Engine
	roles   *service.Roles
}

// NewOracleHandler creates a new oracle handler.
func NewOracleHandler(adapter *service.OracleAdapter, engine *service.Engine, roles *service.Roles) *OracleHandler {
	return &OracleHandler{adapter: adapter, engine: engine, roles: roles}
}

// Request handles POST /api/v1/items/{id}/oracle/{category}
func (h *OracleHandler) Request(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	category, err := service.ParseOracleCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	requestID, err := h.adapter.Request(r.Context(), caller(r), itemID, category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, map[string]interface{}{
		"item_id":    itemID,
		"category":   category,
		"request_id": requestID,
	})
}

// OracleFulfillRequest is the body of POST /api/v1/oracle/fulfill. Steps is
// read for fitness requests, Value for GPS and weather.
type OracleFulfillRequest struct {
	RequestID string  `json:"request_id"`
	Category  string  `json:"category"`
	Steps     *uint64 `json:"steps,omitempty"`
	Value     string  `json:"value,omitempty"`
}

// Fulfill handles POST /api/v1/oracle/fulfill. Unknown or already consumed
// request ids are acknowledged without effect.
func (h *OracleHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var req OracleFulfillRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.RequestID == "" {
		response.Error(w, apierror.ValidationError("request_id is required",
			apierror.FieldError{Field: "request_id", Message: "required"}))
		return
	}
	category, err := service.ParseOracleCategory(req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, who := r.Context(), caller(r)
	switch category {
	case service.CategoryFitness:
		if req.Steps == nil {
			response.Error(w, apierror.ValidationError("steps is required",
				apierror.FieldError{Field: "steps", Message: "required for fitness"}))
			return
		}
		err = h.adapter.FulfillSteps(ctx, who, req.RequestID, *req.Steps)
	case service.CategoryGPS:
		err = h.adapter.FulfillGPS(ctx, who, req.RequestID, req.Value)
	case service.CategoryWeather:
		err = h.adapter.FulfillWeather(ctx, who, req.RequestID, req.Value)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"request_id": req.RequestID,
		"status":     "accepted",
	})
}

// RandomnessFulfillRequest is the body of POST /api/v1/randomness/fulfill.
// Values are decimal strings so 256-bit words survive JSON.
type RandomnessFulfillRequest struct {
	RequestID string   `json:"request_id"`
	Values    []string `json:"values"`
}

// FulfillRandomness handles POST /api/v1/randomness/fulfill. The transport
// must hold the engine role.
func (h *OracleHandler) FulfillRandomness(w http.ResponseWriter, r *http.Request) {
	if err := h.roles.Require(service.RoleEngine, caller(r)); err != nil {
		writeError(w, r, err)
		return
	}

	var req RandomnessFulfillRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if req.RequestID == "" || len(req.Values) == 0 {
		response.Error(w, apierror.BadRequest("request_id and at least one value are required"))
		return
	}

	values := make([]*big.Int, 0, len(req.Values))
	for i, s := range req.Values {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok || v.Sign() < 0 {
			response.Error(w, apierror.ValidationError("invalid random value",
				apierror.FieldError{Field: "values", Message: fmt.Sprintf("value %q at index %d is not a non-negative integer", s, i)}))
			return
		}
		values = append(values, v)
	}

	if err := h.engine.FulfillRandomness(r.Context(), req.RequestID, values); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"request_id": req.RequestID,
		"status":     "accepted",
	})
}

package handler

import (
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"traitfusion-api/internal/model"
	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// ItemHandler serves item creation and attribute reads and writes.
type ItemHandler struct {
	engine *service.Engine
	attrs  *service.AttributeStore
}

// NewItemHandler creates a new item handler.
func NewItemHandler(engine *service.Engine, attrs *service.AttributeStore) *ItemHandler {
	return &ItemHandler{engine: engine, attrs: attrs}
}

// CreateItemRequest is the body of POST /api/v1/items.
type CreateItemRequest struct {
	Owner      string                `json:"owner"`
	Attributes *model.BaseAttributes `json:"attributes,omitempty"`
}

// CreateItem handles POST /api/v1/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		response.Error(w, apierror.ValidationError("owner is required",
			apierror.FieldError{Field: "owner", Message: "required"}))
		return
	}

	itemID, err := h.engine.CreateItem(r.Context(), caller(r), req.Owner, req.Attributes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, map[string]interface{}{
		"item_id":    itemID,
		"owner":      req.Owner,
		"collection": h.engine.Collection(),
	})
}

// AttributeView is the API form of a stored attribute.
type AttributeView struct {
	Name      model.AttributeName `json:"name"`
	Raw       string              `json:"raw"`
	Value     interface{}         `json:"value,omitempty"`
	UpdatedAt string              `json:"updated_at,omitempty"`
}

func (h *ItemHandler) view(name model.AttributeName, raw []byte) AttributeView {
	v := AttributeView{Name: name, Raw: "0x" + hex.EncodeToString(raw)}
	schema, _ := h.attrs.Schema(h.engine.Collection())
	kind, _ := schema.Kind(name)
	switch kind {
	case model.KindUint:
		if n, err := service.DecodeUint(raw); err == nil {
			v.Value = n
		}
	case model.KindText:
		if s, err := service.DecodeText(raw); err == nil {
			v.Value = s
		}
	}
	return v
}

// ListAttributes handles GET /api/v1/items/{id}/attributes
func (h *ItemHandler) ListAttributes(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	attrs, err := h.attrs.ListAttributes(r.Context(), h.engine.Collection(), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]AttributeView, 0, len(attrs))
	for _, a := range attrs {
		v := h.view(a.Name, a.Value)
		v.UpdatedAt = a.UpdatedAt.Format(time.RFC3339)
		views = append(views, v)
	}
	response.OK(w, map[string]interface{}{
		"item_id":    itemID,
		"attributes": views,
	})
}

// GetAttribute handles GET /api/v1/items/{id}/attributes/{name}?as=uint|text|raw
func (h *ItemHandler) GetAttribute(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	name := model.AttributeName(chi.URLParam(r, "name"))
	collection := h.engine.Collection()
	ctx := r.Context()

	result := map[string]interface{}{"item_id": itemID, "name": name}
	switch as := r.URL.Query().Get("as"); as {
	case "uint":
		v, err := h.attrs.GetUint(ctx, collection, itemID, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		result["value"] = v
	case "text":
		v, err := h.attrs.GetText(ctx, collection, itemID, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		result["value"] = v
	case "", "raw":
		raw, err := h.attrs.GetRaw(ctx, collection, itemID, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		result["raw"] = "0x" + hex.EncodeToString(raw)
	default:
		response.Error(w, apierror.ValidationError("invalid accessor",
			apierror.FieldError{Field: "as", Message: "must be uint, text or raw"}))
		return
	}
	response.OK(w, result)
}

// SetAttributeRequest is the body of PUT /api/v1/items/{id}/attributes/{name}.
// Exactly one of Uint, Text or Raw must be set. Raw is hex (0x-prefixed) or
// base64.
type SetAttributeRequest struct {
	Uint *uint64 `json:"uint,omitempty"`
	Text *string `json:"text,omitempty"`
	Raw  *string `json:"raw,omitempty"`
}

func decodeRaw(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") {
		return hex.DecodeString(s[2:])
	}
	return base64.StdEncoding.DecodeString(s)
}

// SetAttribute handles PUT /api/v1/items/{id}/attributes/{name}
func (h *ItemHandler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	name := model.AttributeName(chi.URLParam(r, "name"))

	var req SetAttributeRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	set := 0
	for _, present := range []bool{req.Uint != nil, req.Text != nil, req.Raw != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		response.Error(w, apierror.BadRequest("exactly one of uint, text or raw is required"))
		return
	}

	ctx, who, collection := r.Context(), caller(r), h.engine.Collection()
	var err error
	switch {
	case req.Uint != nil:
		err = h.attrs.SetUint(ctx, who, collection, itemID, name, *req.Uint)
	case req.Text != nil:
		err = h.attrs.SetText(ctx, who, collection, itemID, name, *req.Text)
	default:
		raw, decodeErr := decodeRaw(*req.Raw)
		if decodeErr != nil {
			response.Error(w, apierror.ValidationError("invalid raw value",
				apierror.FieldError{Field: "raw", Message: "must be 0x-hex or base64"}))
			return
		}
		err = h.attrs.SetRaw(ctx, who, collection, itemID, name, raw)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	raw, err := h.attrs.GetRaw(ctx, collection, itemID, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, h.view(name, raw))
}

// DigestRequest is the body of POST /api/v1/items/{id}/digest.
type DigestRequest struct {
	Names []model.AttributeName `json:"names"`
}

// Digest handles POST /api/v1/items/{id}/digest
func (h *ItemHandler) Digest(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	var req DigestRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		response.Error(w, apiErr)
		return
	}

	digest, err := h.attrs.ComputeDigest(r.Context(), h.engine.Collection(), itemID, req.Names...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"item_id": itemID,
		"names":   req.Names,
		"digest":  digest,
	})
}

// State handles GET /api/v1/items/{id}/state
func (h *ItemHandler) State(w http.ResponseWriter, r *http.Request) {
	itemID, apiErr := itemIDParam(r)
	if apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	state, err := h.engine.ActionState(r.Context(), itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, state)
}

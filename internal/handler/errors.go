package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"traitfusion-api/internal/middleware"
	"traitfusion-api/internal/service"
	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// toAPIError maps domain errors to API errors.
func toAPIError(err error) *apierror.Error {
	if apiErr, ok := apierror.As(err); ok {
		return apiErr
	}

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return apierror.Forbidden(err.Error())
	case errors.Is(err, service.ErrCooldownActive):
		return apierror.CooldownActive(err.Error())
	case errors.Is(err, service.ErrInsufficientResource):
		return apierror.InsufficientResource(err.Error())
	case errors.Is(err, service.ErrDecode):
		return apierror.DecodeFailed(err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUnknownRequest):
		return apierror.NotFound(err.Error())
	case errors.Is(err, service.ErrUnknownAttribute), errors.Is(err, service.ErrInvalidArgument):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, service.ErrReentrantCall):
		return apierror.Conflict(err.Error())
	}
	return nil
}

// writeError writes err as an API error. Unmapped errors are logged and
// reported as 500 without their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr := toAPIError(err); apiErr != nil {
		response.Error(w, apiErr)
		return
	}
	log.Printf("[Handler] %s %s id=%s: %v", r.Method, r.URL.Path, middleware.GetRequestID(r.Context()), err)
	response.Error(w, apierror.InternalError(""))
}

// itemIDParam parses the {id} URL parameter.
func itemIDParam(r *http.Request) (uint64, *apierror.Error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apierror.ValidationError("invalid item id",
			apierror.FieldError{Field: "id", Message: "must be an unsigned integer"})
	}
	return id, nil
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) *apierror.Error {
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apierror.BadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// caller returns the authenticated identity of the request.
func caller(r *http.Request) string {
	return middleware.GetCaller(r.Context())
}

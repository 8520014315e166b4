package response

import (
	"encoding/json"
	"log"
	"net/http"

	"traitfusion-api/pkg/apierror"
)

// Envelope is the body of every API response. Exactly one of Data and
// Error is set.
type Envelope struct {
	Success bool            `json:"success"`
	Data    interface{}     `json:"data,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
	Error   *apierror.Error `json:"error,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func write(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("[Response] failed to encode body: %v", err)
	}
}

// JSON sends data with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Envelope{Success: true, Data: data})
}

// OK sends a 200 response.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a 201 response with the created resource.
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Accepted sends a 202 response for work that completes asynchronously,
// such as randomness and oracle requests.
func Accepted(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusAccepted, data)
}

// Page sends one page of a list with its pagination metadata.
func Page(w http.ResponseWriter, data interface{}, page, limit int, total int64) {
	write(w, http.StatusOK, Envelope{
		Success: true,
		Data:    data,
		Meta:    &Meta{Page: page, Limit: limit, Total: total},
	})
}

// Error sends err as an error envelope. Errors that are not API errors
// become a generic 500.
func Error(w http.ResponseWriter, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.InternalError("")
	}
	write(w, apiErr.StatusCode, Envelope{Error: apiErr})
}

package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"traitfusion-api/pkg/apierror"
	"traitfusion-api/pkg/response"
)

// Recovery is a middleware that turns panics into 500 responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				log.Printf("[Recovery] PANIC id=%s %s %s: %v\n%s",
					GetRequestID(r.Context()), r.Method, r.URL.Path, err, debug.Stack())

				response.Error(w, apierror.InternalError(""))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

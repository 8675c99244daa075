package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"go-tours/middleware"
	"go-tours/utils/auth"
	"go-tours/utils/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone at this point, an encode failure can only be logged.
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
	return nil
}

// success wraps data as {status: "success", data: {data: ...}}.
func success(w http.ResponseWriter, status int, data any) error {
	return writeJSON(w, status, map[string]any{
		"status": "success",
		"data":   map[string]any{"data": data},
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return errors.BadRequest("Request body is required")
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.BadRequest("Malformed JSON body")
		}
		return errors.Translate(err)
	}
	return nil
}

func principal(r *http.Request) (auth.Principal, error) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		return auth.Principal{}, errors.ErrNotLoggedIn
	}
	return p, nil
}

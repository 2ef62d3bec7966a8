package httpkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"framepipe/internal/pkg/errors"
)

// MaxJSONBody bounds request bodies read by DecodeJSON.
const MaxJSONBody = 1 << 20

// DecodeJSON decodes a single JSON document from the request body into v.
// Unknown fields and trailing data are rejected as validation errors.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "httpkit.decode", "invalid JSON body")
	}
	if dec.More() {
		return errors.Validation("invalid JSON body: trailing data")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteEvent writes one server-sent event carrying body as JSON and
// flushes it.
func WriteEvent(w http.ResponseWriter, event string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

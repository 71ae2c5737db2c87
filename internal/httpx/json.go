// Package httpx holds small HTTP response helpers shared by the gateway and
// its example downstream handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with the given status and
// payload, disabling HTML escaping so addresses and hex blobs round-trip
// byte-for-byte.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

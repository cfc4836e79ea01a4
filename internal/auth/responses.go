// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware here and by the api, mcp and webhook packages.
package auth

import (
	"encoding/json"
	"net/http"
)

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the {error, message} shape every failure response uses.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	WriteJSON(w, http.StatusInternalServerError, errorBody{
		Error:   "Internal server error",
		Message: "An unexpected error occurred",
	})
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteJSON(w, http.StatusBadRequest, errorBody{Error: "Bad request", Message: message})
}

// Unauthorized returns a 401 JSON response.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication required", Message: message})
}

// Forbidden returns a 403 JSON response.
func Forbidden(w http.ResponseWriter) {
	WriteJSON(w, http.StatusForbidden, errorBody{Error: "Forbidden"})
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
}

// MethodNotAllowed returns a 405 JSON response.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
}

// Package handlers implements the gateway HTTP and websocket endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, param string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message, Param: param}})
}

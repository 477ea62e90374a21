package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vapevault/vaultd/internal/chat"
)

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

// handleChat runs the conversational product-search flow. The response body
// mirrors the upstream chat completion shape and carries the upstream status
// code so callers can tell success from upstream failure.
func handleChat(deps Deps, m *metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			m.chatRequests.WithLabelValues("rejected").Inc()
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !hasMessages(req.Messages) {
			m.chatRequests.WithLabelValues("rejected").Inc()
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		reply, err := deps.Orchestrator.Respond(r.Context(), req.Messages)
		if err != nil {
			m.chatRequests.WithLabelValues("error").Inc()
			var oerr *chat.Error
			if errors.As(err, &oerr) {
				slog.Error("chat orchestration failed", "status", oerr.Status, "error", err)
				httpError(w, oerr.Status, oerr.Type, "%s", oerr.Message)
				return
			}
			slog.Error("chat orchestration failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "internal error")
			return
		}

		m.chatRequests.WithLabelValues("ok").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.StatusCode)
		w.Write(reply.Body)
	}
}

func hasMessages(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return false
	}
	return len(arr) > 0
}

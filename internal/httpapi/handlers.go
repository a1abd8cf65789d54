package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/lifecycle"
	"github.com/candid-app/candid-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING AND ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a bounded JSON request body into dst.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}

// writeOperationError maps engine errors onto HTTP statuses. Precondition
// failures never reach here; operations surface those as an applied=false
// result instead.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsUnauthenticated(err):
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", "invalid credential")
	case shared.IsInvalidArgument(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", userMessage(err))
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", "conversation not found")
	default:
		s.logger.Error("operation failed",
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

// userMessage extracts the user-facing message from a domain error.
func userMessage(err error) string {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "invalid argument"
}

// appliedResult is the response body for operations that report "not
// applicable right now" as routine rather than exceptional.
type appliedResult struct {
	Applied bool `json:"applied"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID    string `json:"uid"`
		Secret string `json:"secret"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.engine.RegisterUser(r.Context(), lifecycle.RegisterUserCommand{
		UID:    req.UID,
		Secret: req.Secret,
	})
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			writeJSONError(w, http.StatusConflict, "already_exists", "user already registered")
			return
		}
		s.writeOperationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"uid": result.UID})
}

func (s *Server) handleSetNotificationToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		Token      string `json:"token"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	ok, err := s.engine.SetNotificationToken(r.Context(), lifecycle.SetNotificationTokenCommand{
		Credential: req.Credential,
		Token:      req.Token,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: ok})
}

func (s *Server) handleClearNotificationToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	err := s.engine.ClearNotificationToken(r.Context(), lifecycle.ClearNotificationTokenCommand{
		Credential: req.Credential,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: true})
}

// ══════════════════════════════════════════════════════════════════════════════
// CONVERSATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		Question   string `json:"question"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.engine.CreateConversation(r.Context(), lifecycle.CreateConversationCommand{
		Credential: req.Credential,
		Question:   req.Question,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"conversation_id": id})
}

func (s *Server) handleJoinConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		FirstReply string `json:"first_reply"`
		ReplyID    string `json:"reply_id"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	joined, err := s.engine.JoinConversation(r.Context(), lifecycle.JoinConversationCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
		FirstReply:     req.FirstReply,
		ReplyID:        req.ReplyID,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: joined})
}

func (s *Server) handleLeaveConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	left, err := s.engine.LeaveConversation(r.Context(), lifecycle.LeaveConversationCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: left})
}

func (s *Server) handleRemoveSelf(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	removed, err := s.engine.RemoveSelf(r.Context(), lifecycle.RemoveSelfCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: removed})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		MessageID  string `json:"message_id"`
		Text       string `json:"text"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	sent, err := s.engine.CreateMessage(r.Context(), lifecycle.CreateMessageCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
		MessageID:      req.MessageID,
		Text:           req.Text,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: sent})
}

func (s *Server) handleCreatePendingMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
		MessageID  string `json:"message_id"`
		Text       string `json:"text"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	queued, err := s.engine.CreatePendingMessage(r.Context(), lifecycle.CreatePendingMessageCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
		MessageID:      req.MessageID,
		Text:           req.Text,
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: queued})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	cleared, err := s.engine.MarkRead(r.Context(), lifecycle.MarkReadCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: cleared})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	reported, err := s.engine.ReportParticipant(r.Context(), lifecycle.ReportCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: reported})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credential string `json:"credential"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	deleted, err := s.engine.DeleteConversation(r.Context(), lifecycle.DeleteConversationCommand{
		Credential:     req.Credential,
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appliedResult{Applied: deleted})
}

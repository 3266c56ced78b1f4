package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/reconcile"
	"github.com/BTreeMap/MessagePipe/internal/util"
)

// sendMethod selects which transport primitive carries an outbound send.
type sendMethod string

const (
	methodPrimary sendMethod = "primary"
	methodPrivate sendMethod = "private"
)

// sendPayload is the request body for POST /api/v1/message/send.
type sendPayload struct {
	ChatID         string              `json:"chat_id"`
	Text           string              `json:"text,omitempty"`
	Subject        string              `json:"subject,omitempty"`
	AttachmentPath string              `json:"attachment_path,omitempty"`
	Method         sendMethod          `json:"method,omitempty"`
	Intent         models.SendIntent   `json:"intent,omitempty"`
	Reaction       models.ReactionKind `json:"reaction,omitempty"`
	ReactionTarget string              `json:"reaction_target,omitempty"`
	ReactionMedia  models.MediaKind    `json:"reaction_media,omitempty"`
	TimeoutSeconds int                 `json:"timeout_seconds,omitempty"`
}

// typingPayload is the request body for the typing endpoints.
type typingPayload struct {
	ChatID string `json:"chat_id"`
}

// sendHandler enqueues an outbound send and blocks until it is confirmed in
// the store or its deadline elapses.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Debug("Server.sendHandler: invalid request body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON request body"))
		return
	}

	req := &models.SendRequest{
		ChatID:         payload.ChatID,
		Text:           payload.Text,
		Subject:        payload.Subject,
		AttachmentPath: payload.AttachmentPath,
		Intent:         payload.Intent,
		Reaction:       payload.Reaction,
		ReactionTarget: payload.ReactionTarget,
		ReactionMedia:  payload.ReactionMedia,
		CorrelationID:  util.GenerateCorrelationID(),
	}
	if req.Intent == "" {
		req.Intent = models.IntentPlain
	}
	if req.AttachmentPath != "" {
		req.IsAttachment = true
	}
	if payload.TimeoutSeconds > 0 {
		req.Deadline = time.Now().Add(time.Duration(payload.TimeoutSeconds) * time.Second)
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	method := payload.Method
	if method == "" {
		method = methodPrimary
	}

	var (
		handle *reconcile.Handle
		err    error
	)
	switch method {
	case methodPrimary:
		handle, err = s.outbox.SendPrimary(r.Context(), req)
	case methodPrivate:
		handle, err = s.outbox.SendPrivate(r.Context(), req)
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrSendMethodUnknown.Error()))
		return
	}
	if err != nil {
		writeJSONResponse(w, http.StatusBadGateway, models.Error(err.Error()))
		return
	}

	event, err := handle.Wait(r.Context())
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Matched(event))
	case errors.Is(err, models.ErrMatchTimeout):
		writeJSONResponse(w, http.StatusGatewayTimeout, models.Timeout("send was not confirmed before the deadline"))
	default:
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
	}
}

// typingStartHandler forwards a start-typing command to the helper process.
func (s *Server) typingStartHandler(w http.ResponseWriter, r *http.Request) {
	s.typingHandler(w, r, true)
}

// typingStopHandler forwards a stop-typing command to the helper process.
func (s *Server) typingStopHandler(w http.ResponseWriter, r *http.Request) {
	s.typingHandler(w, r, false)
}

func (s *Server) typingHandler(w http.ResponseWriter, r *http.Request, start bool) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.helper == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(models.ErrHelperUnavailable.Error()))
		return
	}

	var payload typingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON request body"))
		return
	}
	if payload.ChatID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyChatID.Error()))
		return
	}

	var err error
	if start {
		err = s.helper.StartTyping(payload.ChatID)
	} else {
		err = s.helper.StopTyping(payload.ChatID)
	}
	if err != nil {
		if errors.Is(err, models.ErrHelperUnavailable) {
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// statusHandler reports a snapshot of engine state.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.status == nil {
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.status()))
}

// streamHandler hands the connection to the websocket broadcaster.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error(models.ErrStreamUnsupported.Error()))
		return
	}
	s.stream.ServeHTTP(w, r)
}

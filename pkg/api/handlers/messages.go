package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/models"
	"chatsync/pkg/pipeline"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
)

// Messages exposes the send pipeline over HTTP.
type Messages struct {
	Pipe  *pipeline.Pipeline
	Store *store.Store

	// MaxBody caps the submit request size in bytes. Zero means the
	// default of 1MiB.
	MaxBody int64
}

// RegisterMessages registers HTTP handlers for message-related endpoints.
func RegisterMessages(r *mux.Router, h *Messages) {
	r.HandleFunc("/rooms/{roomID}/messages", h.submitMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", h.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/resend", h.resendMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{id}/messages", h.listThreadMessages).Methods(http.MethodGet)
}

type submitRequest struct {
	Body      string      `json:"msg"`
	ThreadID  string      `json:"tmid,omitempty"`
	Author    models.User `json:"u"`
	Encrypted bool        `json:"encrypted,omitempty"`
}

func (h *Messages) submitMessage(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	limit := h.MaxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Body == "" {
		utils.JSONError(w, http.StatusBadRequest, "msg is required")
		return
	}
	msg, err := h.Pipe.Submit(r.Context(), roomID, req.Body, req.ThreadID, req.Author, req.Encrypted)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONAccepted(w, msg)
}

func (h *Messages) getMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := h.Store.GetMessage(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (h *Messages) resendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Pipe.Resend(r.Context(), id); err != nil {
		utils.JSONError(w, http.StatusConflict, err.Error())
		return
	}
	_ = utils.JSONAccepted(w, map[string]string{"id": id, "status": string(models.StatusTemp)})
}

func (h *Messages) listThreadMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := h.Store.ListThreadMessages(id)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string                 `json:"thread"`
		Messages []models.ThreadMessage `json:"messages"`
	}{Thread: id, Messages: msgs})
}

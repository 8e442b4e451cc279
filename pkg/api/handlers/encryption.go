package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/encryption"
	"chatsync/pkg/security"
	"chatsync/pkg/utils"
)

// Encryption exposes the E2E manager lifecycle over HTTP.
type Encryption struct {
	Manager *encryption.Manager
}

// RegisterEncryption registers HTTP handlers for encryption endpoints.
func RegisterEncryption(r *mux.Router, h *Encryption) {
	r.HandleFunc("/encryption/banner", h.getBanner).Methods(http.MethodGet)
	r.HandleFunc("/encryption/password", h.decodePassword).Methods(http.MethodPost)
	r.HandleFunc("/encryption/password/saved", h.confirmPasswordSaved).Methods(http.MethodPost)
	r.HandleFunc("/encryption/password/recovery", h.getRecoveryPassword).Methods(http.MethodGet)
}

func (h *Encryption) getBanner(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Banner string `json:"banner"`
		State  string `json:"state"`
		Ready  bool   `json:"ready"`
	}{
		Banner: h.Manager.Banner().String(),
		State:  h.Manager.State().String(),
		Ready:  h.Manager.Ready(),
	})
}

func (h *Encryption) decodePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Password == "" {
		utils.JSONError(w, http.StatusBadRequest, "password is required")
		return
	}
	if err := h.Manager.DecodeKeyWithPassword(r.Context(), req.Password); err != nil {
		if errors.Is(err, security.ErrWrongPassword) {
			utils.JSONError(w, http.StatusUnauthorized, "wrong password")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"state": h.Manager.State().String()})
}

func (h *Encryption) confirmPasswordSaved(w http.ResponseWriter, r *http.Request) {
	h.Manager.ConfirmPasswordSaved()
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"state": h.Manager.State().String()})
}

func (h *Encryption) getRecoveryPassword(w http.ResponseWriter, r *http.Request) {
	pw, ok := h.Manager.RecoveryPassword()
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "no pending recovery password")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"password": pw})
}

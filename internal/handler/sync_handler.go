package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"slugstate/internal/domain"
	"slugstate/internal/middleware"
	"slugstate/internal/service"
	"slugstate/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const maxKeyLength = 256

type SyncHandler struct {
	syncService *service.SyncService
	validator   *validator.Validate
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		validator:   validator.New(),
	}
}

func stateKey(r *http.Request) (string, bool) {
	key := mux.Vars(r)["key"]
	if key == "" || len(key) > maxKeyLength {
		return "", false
	}
	return key, true
}

func (h *SyncHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	manifest, err := h.syncService.GetManifest(r.Context(), userID)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, manifest)
}

func (h *SyncHandler) GetState(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	key, ok := stateKey(r)
	if !ok {
		response.BadRequest(w, "invalid state key")
		return
	}

	state, err := h.syncService.Get(r.Context(), userID, key)
	if err != nil {
		if errors.Is(err, service.ErrStateNotFound) {
			response.NotFound(w, "state not found")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, state)
}

// PutState answers 200 with an accepted ack, or 409 with the current
// remote state when the expected version is stale.
func (h *SyncHandler) PutState(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	key, ok := stateKey(r)
	if !ok {
		response.BadRequest(w, "invalid state key")
		return
	}

	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	ack, err := h.syncService.Push(r.Context(), userID, key, &req)
	if err != nil {
		if errors.Is(err, service.ErrTokenTooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if errors.Is(err, service.ErrDeviceRevoked) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	if !ack.Accepted {
		response.Conflict(w, ack)
		return
	}

	response.Success(w, ack)
}

func (h *SyncHandler) DeleteState(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	key, ok := stateKey(r)
	if !ok {
		response.BadRequest(w, "invalid state key")
		return
	}

	if err := h.syncService.Delete(r.Context(), userID, key, r.URL.Query().Get("device_id")); err != nil {
		if errors.Is(err, service.ErrStateNotFound) {
			response.NotFound(w, "state not found")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]string{
		"message": "state deleted",
	})
}

package handler

import (
	"errors"
	"net/http"

	"slugstate/internal/middleware"
	"slugstate/internal/service"
	"slugstate/pkg/response"

	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service *service.DeviceService
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service: service,
	}
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	devices, err := h.service.List(r.Context(), userID)
	if err != nil {
		response.InternalError(w, "Failed to list devices")
		return
	}

	response.Success(w, devices)
}

func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	deviceID := mux.Vars(r)["id"]
	if deviceID == "" {
		response.BadRequest(w, "Device ID is required")
		return
	}

	if err := h.service.Revoke(r.Context(), userID, deviceID); err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to revoke device")
		return
	}

	response.Success(w, map[string]string{
		"message": "Device revoked successfully",
	})
}

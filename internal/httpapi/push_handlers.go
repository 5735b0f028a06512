package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mvejnar/sidekick/internal/notifications"
)

// handlePushRegister registers a device push token
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	deviceID := getAuthDevice(req.Context())
	if deviceID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if body.Platform != "ios" && body.Platform != "android" {
		http.Error(w, `{"error": "platform must be 'ios' or 'android'"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.RegisterDeviceToken(req.Context(), deviceID, body.Token, body.Platform); err != nil {
		r.logger.Printf("push: failed to register token: %v", err)
		http.Error(w, `{"error": "failed to register token"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: registered %s token for device %s", body.Platform, deviceID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	deviceID := getAuthDevice(req.Context())
	if deviceID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.UnregisterDeviceToken(req.Context(), body.Token); err != nil {
		r.logger.Printf("push: failed to unregister token: %v", err)
		http.Error(w, `{"error": "failed to unregister token"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: unregistered token for device %s", deviceID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushTest sends a test notification to every registered iOS token.
// Tokens APNs reports as bad are dropped from the registry.
func (r *Router) handlePushTest(w http.ResponseWriter, req *http.Request) {
	if r.apns == nil {
		http.Error(w, `{"error": "push notifications not configured"}`, http.StatusServiceUnavailable)
		return
	}

	tokens, err := r.store.ListDeviceTokens(req.Context())
	if err != nil {
		r.logger.Printf("push: failed to list tokens: %v", err)
		http.Error(w, `{"error": "failed to list tokens"}`, http.StatusInternalServerError)
		return
	}

	sent, pruned := 0, 0
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		err := r.apns.SendTestNotification(t.Token, "Push notifications are working.")
		if errors.Is(err, notifications.ErrBadDeviceToken) {
			_ = r.store.UnregisterDeviceToken(req.Context(), t.Token)
			pruned++
			continue
		}
		if err == nil {
			sent++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":   sent,
		"pruned": pruned,
		"total":  len(tokens),
	})
}

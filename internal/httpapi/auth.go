package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for the authenticated device
type contextKey string

const deviceContextKey contextKey = "device"

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"device_id"`
}

// hashToken creates a SHA256 hash of the token for storage
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// bearerToken extracts the token from the Authorization header, or from the
// "token" query parameter as a fallback. Websocket clients cannot set headers
// from the browser, so the query parameter form is accepted everywhere.
func bearerToken(req *http.Request) string {
	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString := bearerToken(req)
		if tokenString == "" {
			http.Error(w, `{"error": "missing authorization"}`, http.StatusUnauthorized)
			return
		}

		// Parse and validate JWT
		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		// Check if the session is still valid (not revoked)
		tokenHash := hashToken(tokenString)
		valid, err := r.store.IsAPISessionValid(req.Context(), tokenHash)
		if err != nil || !valid {
			http.Error(w, `{"error": "session expired or revoked"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), deviceContextKey, claims.DeviceID)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getAuthDevice extracts the authenticated device id from context
func getAuthDevice(ctx context.Context) string {
	deviceID, _ := ctx.Value(deviceContextKey).(string)
	return deviceID
}

// generateJWT creates a new JWT token for a device
func (r *Router) generateJWT(deviceID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// handleIssueToken exchanges the shared device key for a JWT
func (r *Router) handleIssueToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		DeviceID  string `json:"device_id"`
		DeviceKey string `json:"device_key"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.DeviceID == "" {
		http.Error(w, `{"error": "missing device_id"}`, http.StatusBadRequest)
		return
	}

	if r.cfg.DeviceKey == "" {
		r.logger.Printf("auth: device key not configured")
		http.Error(w, `{"error": "device auth not configured"}`, http.StatusServiceUnavailable)
		return
	}

	if subtle.ConstantTimeCompare([]byte(body.DeviceKey), []byte(r.cfg.DeviceKey)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid device key",
		})
		return
	}

	token, expiresAt, err := r.generateJWT(body.DeviceID)
	if err != nil {
		r.logger.Printf("auth: failed to generate JWT: %v", err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	// Store the session for logout/revocation
	tokenHash := hashToken(token)
	if err := r.store.CreateAPISession(req.Context(), tokenHash, expiresAt); err != nil {
		r.logger.Printf("auth: failed to store session: %v", err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("auth: issued token for device %s", body.DeviceID)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"device_id":  body.DeviceID,
	})
}

// handleLogout revokes the current session
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if tokenString := bearerToken(req); tokenString != "" {
		_ = r.store.RevokeAPISession(req.Context(), hashToken(tokenString))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

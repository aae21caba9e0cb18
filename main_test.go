package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"wandertrack/api/middleware"
)

func profileResponse(t *testing.T, r *gin.Engine, apiKey string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, body
}

func TestProfileWithAPIKeyBypass(t *testing.T) {
	t.Setenv("AUTH_DEFAULT", "internal-key")
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/api/profile", middleware.AuthRequired(), profileHandler)

	// API-key callers pass the auth gate without user claims; the profile
	// must answer without them instead of panicking.
	code, body := profileResponse(t, r, "internal-key")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if _, present := body["user_id"]; present {
		t.Error("API-key caller must not be assigned a user id")
	}
	if _, present := body["user_email"]; present {
		t.Error("API-key caller must not be assigned a user email")
	}
	if body["message"] == "" {
		t.Error("response missing message")
	}

	code, _ = profileResponse(t, r, "")
	if code != http.StatusUnauthorized {
		t.Errorf("status without credentials = %d, want 401", code)
	}
}

func TestProfileWithUserIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/api/profile", func(c *gin.Context) {
		c.Set("user_id", 7)
		c.Set("user_email", "visitor@example.com")
	}, profileHandler)

	code, body := profileResponse(t, r, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if got, ok := body["user_id"].(float64); !ok || got != 7 {
		t.Errorf("user_id = %v, want 7", body["user_id"])
	}
	if body["user_email"] != "visitor@example.com" {
		t.Errorf("user_email = %v", body["user_email"])
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/netcomhub/dashboard/pkg/broker"
	"github.com/netcomhub/dashboard/pkg/core"
	"github.com/netcomhub/dashboard/pkg/provider"
	"github.com/netcomhub/dashboard/pkg/store"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testDescriptor(id, tokenURL string, supportsRefresh bool) *provider.Descriptor {
	return &provider.Descriptor{
		ID:              id,
		Name:            id,
		AuthURL:         "https://auth.example.com/authorize",
		TokenURL:        tokenURL,
		ClientID:        "client-" + id,
		ClientSecret:    "secret-" + id,
		RedirectURI:     "http://localhost:5000/" + id + "/auth/callback",
		Scopes:          []string{"read"},
		SupportsRefresh: supportsRefresh,
	}
}

func newTestRouter(t *testing.T, descriptors ...*provider.Descriptor) (*gin.Engine, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(st.Close)

	b := broker.New(provider.NewRegistry(descriptors...), st)
	router := gin.New()
	NewServer(b, "").RegisterRoutes(router)
	return router, st
}

func performRequest(router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	w := performRequest(router, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthURL(t *testing.T) {
	router, _ := newTestRouter(t,
		testDescriptor("google", "https://oauth2.example.com/token", true),
		&provider.Descriptor{ID: "notion", Name: "Notion", APIKey: "secret_abc"},
	)

	t.Run("configured provider", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth-url")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}

		body := decodeJSON(t, w)
		authURL, _ := body["authUrl"].(string)
		if authURL == "" {
			t.Fatal("response carries no authUrl")
		}
		parsed, err := url.Parse(authURL)
		if err != nil {
			t.Fatalf("parse authUrl: %v", err)
		}
		if parsed.Query().Get("state") == "" {
			t.Error("authUrl carries no state")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/gitlab/auth-url")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("api key only provider cannot run oauth", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/notion/auth-url")
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

func TestAuthRedirect(t *testing.T) {
	router, _ := newTestRouter(t, testDescriptor("google", "https://oauth2.example.com/token", true))

	w := performRequest(router, http.MethodGet, "/google/auth")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}

	location := w.Header().Get("Location")
	parsed, err := url.Parse(location)
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if parsed.Host != "auth.example.com" {
		t.Errorf("redirect host = %v, want auth.example.com", parsed.Host)
	}
	if parsed.Query().Get("state") == "" {
		t.Error("redirect carries no state")
	}
}

func TestAuthCallback(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-1"}`))
	}))
	defer tokenServer.Close()

	router, _ := newTestRouter(t, testDescriptor("google", tokenServer.URL, true))

	t.Run("full round trip", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth-url")
		if w.Code != http.StatusOK {
			t.Fatalf("auth-url status = %d", w.Code)
		}
		authURL := decodeJSON(t, w)["authUrl"].(string)
		parsed, _ := url.Parse(authURL)
		state := parsed.Query().Get("state")

		w = performRequest(router, http.MethodGet, "/google/auth/callback?code=code-123&state="+url.QueryEscape(state))
		if w.Code != http.StatusFound {
			t.Fatalf("callback status = %d, want %d", w.Code, http.StatusFound)
		}
		if got := w.Header().Get("Location"); got != "http://localhost:3000/google?auth=success" {
			t.Errorf("Location = %v, want success redirect", got)
		}

		w = performRequest(router, http.MethodGet, "/google/auth-status")
		if w.Code != http.StatusOK {
			t.Fatalf("auth-status status = %d", w.Code)
		}
		body := decodeJSON(t, w)
		if body["isAuthenticated"] != true {
			t.Errorf("isAuthenticated = %v, want true", body["isAuthenticated"])
		}
		if body["mode"] != "oauth" {
			t.Errorf("mode = %v, want oauth", body["mode"])
		}
	})

	t.Run("invalid state", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth/callback?code=code-123&state=never-issued")
		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if got := w.Header().Get("Location"); got != "http://localhost:3000/google?auth=error&message=invalid_state" {
			t.Errorf("Location = %v, want invalid_state redirect", got)
		}
	})

	t.Run("missing code or state", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth/callback")
		if got := w.Header().Get("Location"); got != "http://localhost:3000/google?auth=error&message=missing_code_or_state" {
			t.Errorf("Location = %v, want missing_code_or_state redirect", got)
		}
	})

	t.Run("provider reported denial", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth/callback?error=access_denied")
		if got := w.Header().Get("Location"); got != "http://localhost:3000/google?auth=error&message=access_denied" {
			t.Errorf("Location = %v, want access_denied redirect", got)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/gitlab/auth/callback?code=code-123&state=abc")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestAuthStatus(t *testing.T) {
	router, st := newTestRouter(t,
		testDescriptor("google", "https://oauth2.example.com/token", true),
		&provider.Descriptor{ID: "notion", Name: "Notion", APIKey: "secret_abc"},
	)

	t.Run("not authenticated", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/google/auth-status")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decodeJSON(t, w)
		if body["isAuthenticated"] != false {
			t.Errorf("isAuthenticated = %v, want false", body["isAuthenticated"])
		}
		if body["reason"] != broker.ReasonNotAuthenticated {
			t.Errorf("reason = %v, want %v", body["reason"], broker.ReasonNotAuthenticated)
		}
	})

	t.Run("authenticated with expiry and scopes", func(t *testing.T) {
		expiry := time.Now().Add(time.Hour).Truncate(time.Second)
		err := st.PutCredential(context.Background(), &core.Credential{
			ProviderID:  "google",
			AccessToken: "access-1",
			Scopes:      []string{"mail"},
			ExpiresAt:   expiry,
			AcquiredAt:  time.Now(),
		})
		if err != nil {
			t.Fatalf("seed credential: %v", err)
		}

		w := performRequest(router, http.MethodGet, "/google/auth-status")
		body := decodeJSON(t, w)
		if body["isAuthenticated"] != true {
			t.Errorf("isAuthenticated = %v, want true", body["isAuthenticated"])
		}
		if body["expiresAt"] != expiry.Format(time.RFC3339) {
			t.Errorf("expiresAt = %v, want %v", body["expiresAt"], expiry.Format(time.RFC3339))
		}
	})

	t.Run("api key mode", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/notion/auth-status")
		body := decodeJSON(t, w)
		if body["isAuthenticated"] != true {
			t.Errorf("isAuthenticated = %v, want true", body["isAuthenticated"])
		}
		if body["mode"] != broker.ModeAPIKey {
			t.Errorf("mode = %v, want %v", body["mode"], broker.ModeAPIKey)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := performRequest(router, http.MethodGet, "/gitlab/auth-status")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	t.Run("not authenticated", func(t *testing.T) {
		router, _ := newTestRouter(t, testDescriptor("google", "https://oauth2.example.com/token", true))

		w := performRequest(router, http.MethodPost, "/google/refresh-token")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		body := decodeJSON(t, w)
		if body["reason"] != broker.ReasonNotAuthenticated {
			t.Errorf("reason = %v, want %v", body["reason"], broker.ReasonNotAuthenticated)
		}
	})

	t.Run("successful forced refresh", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
		}))
		defer tokenServer.Close()

		router, st := newTestRouter(t, testDescriptor("google", tokenServer.URL, true))
		err := st.PutCredential(context.Background(), &core.Credential{
			ProviderID:   "google",
			AccessToken:  "old",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("seed credential: %v", err)
		}

		w := performRequest(router, http.MethodPost, "/google/refresh-token")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
		}
		body := decodeJSON(t, w)
		if body["success"] != true {
			t.Errorf("success = %v, want true", body["success"])
		}
		if body["expiresAt"] == nil {
			t.Error("response carries no expiresAt")
		}
	})

	t.Run("transient upstream failure", func(t *testing.T) {
		tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer tokenServer.Close()

		router, st := newTestRouter(t, testDescriptor("google", tokenServer.URL, true))
		err := st.PutCredential(context.Background(), &core.Credential{
			ProviderID:   "google",
			AccessToken:  "old",
			RefreshToken: "refresh-1",
			ExpiresAt:    time.Now().Add(-time.Minute),
		})
		if err != nil {
			t.Fatalf("seed credential: %v", err)
		}

		w := performRequest(router, http.MethodPost, "/google/refresh-token")
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadGateway)
		}
		body := decodeJSON(t, w)
		if body["reason"] != broker.ReasonTransient {
			t.Errorf("reason = %v, want %v", body["reason"], broker.ReasonTransient)
		}
	})
}

func TestLogout(t *testing.T) {
	router, st := newTestRouter(t, testDescriptor("google", "https://oauth2.example.com/token", true))

	err := st.PutCredential(context.Background(), &core.Credential{
		ProviderID:  "google",
		AccessToken: "access-1",
	})
	if err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	w := performRequest(router, http.MethodPost, "/google/logout")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decodeJSON(t, w); body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}

	// Idempotent: a second logout still succeeds.
	w = performRequest(router, http.MethodPost, "/google/logout")
	if w.Code != http.StatusOK {
		t.Errorf("repeat logout status = %d, want %d", w.Code, http.StatusOK)
	}

	w = performRequest(router, http.MethodPost, "/gitlab/logout")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, testDescriptor("google", "https://oauth2.example.com/token", true))

	w := performRequest(router, http.MethodOptions, "/google/auth-status")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %v, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("Access-Control-Allow-Methods missing")
	}
}

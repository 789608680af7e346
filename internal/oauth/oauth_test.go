package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func testManager() *Manager {
	return &Manager{
		config: &oauth2.Config{Scopes: Scopes},
		logger: slog.New(slog.DiscardHandler),
	}
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		code     string
		wantCode string
		wantErr  string
	}{
		{
			name:     "valid callback",
			state:    "good-state",
			code:     "auth-code-123",
			wantCode: "auth-code-123",
		},
		{
			name:    "state mismatch",
			state:   "evil-state",
			code:    "auth-code-123",
			wantErr: "state mismatch",
		},
		{
			name:    "missing code",
			state:   "good-state",
			wantErr: "no code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager()
			codeChan := make(chan string, 1)
			errChan := make(chan error, 1)
			handler := m.newCallbackHandler("good-state", codeChan, errChan)

			q := url.Values{}
			q.Set("state", tt.state)
			if tt.code != "" {
				q.Set("code", tt.code)
			}
			req := httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil)
			handler(httptest.NewRecorder(), req)

			select {
			case code := <-codeChan:
				if tt.wantCode == "" {
					t.Fatalf("unexpected code %q", code)
				}
				if code != tt.wantCode {
					t.Errorf("code = %q, want %q", code, tt.wantCode)
				}
			case err := <-errChan:
				if tt.wantErr == "" {
					t.Fatalf("unexpected error %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want %q", err, tt.wantErr)
				}
			default:
				t.Fatal("handler produced neither code nor error")
			}
		})
	}
}

func TestTokenSourceRequiresAuthorization(t *testing.T) {
	m := testManager()
	if _, err := m.TokenSource(context.Background()); err == nil {
		t.Fatal("TokenSource succeeded without a token")
	}
}

func TestForgetClearsToken(t *testing.T) {
	m := testManager()
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}
	m.token = tok

	m.Forget()

	if m.token != nil {
		t.Error("token pointer retained after Forget")
	}
	if tok.AccessToken != "" || tok.RefreshToken != "" {
		t.Error("token material not cleared after Forget")
	}
	if _, err := m.TokenSource(context.Background()); err == nil {
		t.Error("TokenSource succeeded after Forget")
	}
}

func TestNewManagerMissingSecrets(t *testing.T) {
	if _, err := NewManager("/nonexistent/credentials.json", nil); err == nil {
		t.Fatal("NewManager succeeded with missing client secrets")
	}
}

package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		ProjectURL: srv.URL,
		AnonKey:    "anon-key",
		ServiceKey: "service-key",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{AnonKey: "k"}); err == nil {
		t.Error("expected error for missing project URL")
	}
	if _, err := New(Config{ProjectURL: "https://x.supabase.co"}); err == nil {
		t.Error("expected error for missing anon key")
	}
	if _, err := New(Config{ProjectURL: "not a url", AnonKey: "k"}); err == nil {
		t.Error("expected error for invalid project URL")
	}
}

func TestRequestHeaders(t *testing.T) {
	var gotAPIKey, gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))

	if _, err := c.Database().From("sounds").Select("*").Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAPIKey != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", gotAPIKey)
	}
	if gotAuth != "Bearer anon-key" {
		t.Errorf("Authorization = %q, want Bearer anon-key", gotAuth)
	}
}

func TestRequestWithTokenKeepsAnonAPIKey(t *testing.T) {
	var gotAPIKey, gotAuth string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))

	_, err := c.Database().From("sounds").Select("*").WithToken("user-token").Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAPIKey != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", gotAPIKey)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q, want Bearer user-token", gotAuth)
	}
}

func TestHostAllowListBlocksForeignHosts(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))

	_, _, err := c.request(context.Background(), "GET", "https://evil.example.com/steal", nil, nil)
	if err == nil {
		t.Fatal("expected foreign host to be rejected")
	}
}

func TestParseErrorShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"postgrest", `{"code":"PGRST301","message":"row not found"}`, "row not found"},
		{"gotrue msg", `{"msg":"invalid credentials"}`, "invalid credentials"},
		{"gotrue error", `{"error":"invalid_grant","error_description":"wrong password"}`, "invalid_grant"},
		{"plain text", `backend exploded`, "backend exploded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parseError([]byte(tc.body), 400)
			var sbErr *Error
			if !errors.As(err, &sbErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if sbErr.Message != tc.want {
				t.Errorf("message = %q, want %q", sbErr.Message, tc.want)
			}
			if sbErr.StatusCode != 400 {
				t.Errorf("status = %d, want 400", sbErr.StatusCode)
			}
		})
	}
}

func TestAuthSignUpAndSignIn(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var req SignUpRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(Session{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			User:         &User{ID: "user-1", Email: req.Email},
		})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Session{
			AccessToken:  "at-2",
			RefreshToken: "rt-2",
			User:         &User{ID: "user-1", Email: "a@b.co"},
		})
	})

	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	up, err := c.Auth().SignUp(ctx, SignUpRequest{Email: "a@b.co", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	in, err := c.Auth().SignInWithPassword(ctx, "a@b.co", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if up.User.ID != in.User.ID {
		t.Errorf("sign-up user %s != sign-in user %s", up.User.ID, in.User.ID)
	}
}

func TestAuthSignUpConfirmationPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		// Confirmation-enabled projects return a bare user, no tokens.
		json.NewEncoder(w).Encode(User{ID: "user-9", Email: "p@q.co"})
	})

	c, _ := newTestClient(t, mux)
	session, err := c.Auth().SignUp(context.Background(), SignUpRequest{Email: "p@q.co", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if session.AccessToken != "" {
		t.Error("expected no access token before confirmation")
	}
	if session.User == nil || session.User.ID != "user-9" {
		t.Errorf("user = %+v, want id user-9", session.User)
	}
}

func TestAuthSignInRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	})

	c, _ := newTestClient(t, mux)
	_, err := c.Auth().SignInWithPassword(context.Background(), "a@b.co", "wrong")
	var sbErr *Error
	if !errors.As(err, &sbErr) || sbErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 *Error, got %v", err)
	}
}

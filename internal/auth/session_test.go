package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

func newTestManager(t *testing.T, handler http.Handler) (*Manager, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("supabase.New: %v", err)
	}
	return NewManager(client, logger.Nop()), &hits
}

func authStub() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var req sb.SignUpRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(sb.Session{
			AccessToken:  "at",
			RefreshToken: "rt",
			User:         &sb.User{ID: "user-1", Email: req.Email},
		})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sb.Session{
			AccessToken:  "at2",
			RefreshToken: "rt2",
			User:         &sb.User{ID: "user-1", Email: "a@b.co"},
		})
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestSignUpValidationFailsBeforeNetwork(t *testing.T) {
	m, hits := newTestManager(t, authStub())
	ctx := context.Background()

	cases := []struct {
		name                      string
		email, password, confirm  string
	}{
		{"bad email", "not-an-email", "secret1", "secret1"},
		{"short password", "a@b.co", "five5", "five5"},
		{"mismatched confirmation", "a@b.co", "secret1", "secret2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.SignUp(ctx, tc.email, tc.password, tc.confirm)
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if *hits != 0 {
		t.Errorf("validation failures hit the network %d times", *hits)
	}
}

func TestSignUpThenSignInSameUser(t *testing.T) {
	m, _ := newTestManager(t, authStub())
	ctx := context.Background()

	up, err := m.SignUp(ctx, "a@b.co", "secret1", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	in, err := m.SignIn(ctx, "a@b.co", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if up.User.ID != in.User.ID {
		t.Errorf("user changed across sign-up/sign-in: %s vs %s", up.User.ID, in.User.ID)
	}
	if m.CurrentUser() == nil || m.CurrentUser().ID != "user-1" {
		t.Error("current user not cached after sign-in")
	}
}

func TestSignUpPendingConfirmationReturnsTokenlessSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		// Confirmation-enabled projects return a bare user, no tokens.
		json.NewEncoder(w).Encode(sb.User{ID: "user-1", Email: "a@b.co"})
	})
	m, _ := newTestManager(t, mux)

	s, err := m.SignUp(context.Background(), "a@b.co", "secret1", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s == nil || s.User == nil || s.User.ID != "user-1" {
		t.Fatalf("session = %+v, want the pending user", s)
	}
	// Callers branch on the token, not on nil, to detect pending accounts.
	if s.AccessToken != "" {
		t.Error("pending account carried an access token")
	}
	if m.CurrentUser() != nil {
		t.Error("pending account was installed as the current session")
	}
}

func TestSignInFailureMapsToErrAuthFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
	})
	m, _ := newTestManager(t, mux)

	_, err := m.SignIn(context.Background(), "a@b.co", "wrong")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if m.CurrentSession() != nil {
		t.Error("failed sign-in left a session behind")
	}
}

func TestSignOutClearsSessionEvenOnBackendFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sb.Session{AccessToken: "at", User: &sb.User{ID: "u1"}})
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"msg":"boom"}`))
	})
	m, _ := newTestManager(t, mux)
	ctx := context.Background()

	if _, err := m.SignIn(ctx, "a@b.co", "secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	err := m.SignOut(ctx)
	if !errors.Is(err, ErrBackendRejected) {
		t.Errorf("expected ErrBackendRejected, got %v", err)
	}
	if m.CurrentSession() != nil {
		t.Error("session survived sign-out")
	}
	if m.AccessToken() != "" {
		t.Error("access token survived sign-out")
	}
}

func TestSignOutIdleIsNoop(t *testing.T) {
	m, hits := newTestManager(t, authStub())
	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if *hits != 0 {
		t.Error("idle sign-out hit the network")
	}
}

func TestOnSessionChangeNotifiesAndUnsubscribes(t *testing.T) {
	m, _ := newTestManager(t, authStub())
	ctx := context.Background()

	var got []*sb.Session
	unsubscribe := m.OnSessionChange(func(s *sb.Session) {
		got = append(got, s)
	})

	if _, err := m.SignIn(ctx, "a@b.co", "secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := m.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("listener fired %d times, want 2", len(got))
	}
	if got[0] == nil || got[1] != nil {
		t.Error("expected session then nil")
	}

	unsubscribe()
	if _, err := m.SignIn(ctx, "a@b.co", "secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(got) != 2 {
		t.Error("listener fired after unsubscribe")
	}
}

func TestEnsureFreshWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, authStub())
	if err := m.EnsureFresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestRestoreInstallsSavedSession(t *testing.T) {
	m, _ := newTestManager(t, authStub())

	m.Restore(&sb.Session{AccessToken: "saved", User: &sb.User{ID: "u7"}})
	if m.AccessToken() != "saved" {
		t.Error("restored token not active")
	}

	m.Restore(nil) // must not clear
	if m.AccessToken() != "saved" {
		t.Error("nil restore cleared the session")
	}
}

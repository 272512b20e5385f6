package fakes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// StatusUpdate is one PATCH the fake identity service received.
type StatusUpdate struct {
	AccountID          string
	Authorization      string
	IsVerified         bool
	VerificationStatus string
}

// IdentityServer serves PATCH /accounts/{id}/verification-status.
type IdentityServer struct {
	server *httptest.Server

	mu      sync.Mutex
	status  int
	updates []StatusUpdate
}

func NewIdentityServer(t *testing.T) *IdentityServer {
	t.Helper()
	s := &IdentityServer{status: http.StatusNoContent}

	r := chi.NewRouter()
	r.Patch("/accounts/{id}/verification-status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IsVerified         bool   `json:"isVerified"`
			VerificationStatus string `json:"verificationStatus"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.updates = append(s.updates, StatusUpdate{
			AccountID:          chi.URLParam(r, "id"),
			Authorization:      r.Header.Get("Authorization"),
			IsVerified:         body.IsVerified,
			VerificationStatus: body.VerificationStatus,
		})
		w.WriteHeader(s.status)
	})

	s.server = httptest.NewServer(r)
	t.Cleanup(s.server.Close)
	return s
}

func (s *IdentityServer) URL() string { return s.server.URL }

// RespondWith sets the status code returned to subsequent requests.
func (s *IdentityServer) RespondWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Updates returns every PATCH received so far.
func (s *IdentityServer) Updates() []StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusUpdate(nil), s.updates...)
}

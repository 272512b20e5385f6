// Package fakes provides in-process HTTP stand-ins for the upstream services
// the engine talks to.
package fakes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// OCRReply is what the fake OCR endpoint returns for a document kind.
type OCRReply struct {
	DocumentNumber string            `json:"document_number"`
	Fields         map[string]string `json:"fields,omitempty"`
	Confidence     float64           `json:"confidence"`
}

// LivenessReply is what the fake liveness endpoint returns for a media kind.
type LivenessReply struct {
	Confidence    float64  `json:"confidence"`
	LivenessScore *float64 `json:"liveness_score,omitempty"`
}

// Upload is one request the fake received.
type Upload struct {
	Path          string
	Authorization string
	ContentType   string
	Size          int
}

// ProviderServer serves /v1/ocr/{kind} and /v1/liveness/{kind}.
type ProviderServer struct {
	server *httptest.Server
	apiKey string

	mu       sync.Mutex
	ocr      map[string]OCRReply
	liveness map[string]LivenessReply
	statuses map[string]int
	raw      map[string]string
	delay    time.Duration
	uploads  []Upload
}

// NewProviderServer starts the fake and closes it when the test ends.
// Requests must carry "Bearer <apiKey>" when apiKey is non-empty.
func NewProviderServer(t *testing.T, apiKey string) *ProviderServer {
	t.Helper()
	p := &ProviderServer{
		apiKey:   apiKey,
		ocr:      make(map[string]OCRReply),
		liveness: make(map[string]LivenessReply),
		statuses: make(map[string]int),
		raw:      make(map[string]string),
	}

	r := chi.NewRouter()
	r.Post("/v1/ocr/{kind}", p.handle(func(kind string) (any, bool) {
		reply, ok := p.ocr[kind]
		return reply, ok
	}))
	r.Post("/v1/liveness/{kind}", p.handle(func(kind string) (any, bool) {
		reply, ok := p.liveness[kind]
		return reply, ok
	}))

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

func (p *ProviderServer) URL() string { return p.server.URL }

// SetOCR scripts the reply for a document kind.
func (p *ProviderServer) SetOCR(kind string, reply OCRReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ocr[kind] = reply
}

// SetLiveness scripts the reply for a media kind.
func (p *ProviderServer) SetLiveness(kind string, reply LivenessReply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveness[kind] = reply
}

// FailWith makes requests to path answer with status until cleared with 0.
func (p *ProviderServer) FailWith(path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		delete(p.statuses, path)
		return
	}
	p.statuses[path] = status
}

// RespondRaw makes requests to path answer 200 with body verbatim.
func (p *ProviderServer) RespondRaw(path, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw[path] = body
}

// SetDelay delays every response.
func (p *ProviderServer) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Uploads returns every request received so far.
func (p *ProviderServer) Uploads() []Upload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Upload(nil), p.uploads...)
}

func (p *ProviderServer) handle(lookup func(kind string) (any, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		delay := p.delay
		p.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if p.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+p.apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		_ = file.Close()

		p.mu.Lock()
		defer p.mu.Unlock()
		p.uploads = append(p.uploads, Upload{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   header.Header.Get("Content-Type"),
			Size:          len(data),
		})

		if status, ok := p.statuses[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		if body, ok := p.raw[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
			return
		}
		reply, ok := lookup(chi.URLParam(r, "kind"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}
}

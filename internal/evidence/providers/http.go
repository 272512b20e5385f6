package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"ekyc/internal/verification/metrics"
	"ekyc/pkg/platform/circuit"
)

const (
	ocrProviderID      = "ocr"
	livenessProviderID = "liveness"

	maxResponseBytes = 1 << 20
)

// Config configures the HTTP gateway.
type Config struct {
	OCRBaseURL       string
	LivenessBaseURL  string
	APIKey           string
	Timeout          time.Duration // per call
	FailureThreshold int           // consecutive failures before an endpoint's circuit opens
	Cooldown         time.Duration // how long an open circuit rejects calls before probing
}

// HTTPGateway talks to the OCR and liveness providers over HTTP with one
// multipart upload per call. Each endpoint has its own circuit breaker.
type HTTPGateway struct {
	cfg      Config
	client   *http.Client
	breakers map[string]*circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient replaces the default client. The per-call timeout still applies.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) {
		if c != nil {
			g.client = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *HTTPGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *HTTPGateway) {
		g.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *HTTPGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewHTTPGateway validates the configuration and builds breakers for every
// endpoint up front.
func NewHTTPGateway(cfg Config, opts ...Option) (*HTTPGateway, error) {
	for name, raw := range map[string]string{"ocr": cfg.OCRBaseURL, "liveness": cfg.LivenessBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s base url %q", name, raw)
		}
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("provider timeout must be positive")
	}

	g := &HTTPGateway{
		cfg:      cfg,
		client:   &http.Client{},
		breakers: make(map[string]*circuit.Breaker),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	breakerOpts := []circuit.Option{circuit.WithClock(g.now)}
	if cfg.FailureThreshold > 0 {
		breakerOpts = append(breakerOpts, circuit.WithFailureThreshold(cfg.FailureThreshold))
	}
	if cfg.Cooldown > 0 {
		breakerOpts = append(breakerOpts, circuit.WithCooldown(cfg.Cooldown))
	}
	for _, kind := range []DocumentKind{DocumentPassport, DocumentNationalID, DocumentDriversLicense} {
		name := ocrEndpoint(kind)
		g.breakers[name] = circuit.New(name, breakerOpts...)
	}
	for _, kind := range []MediaKind{MediaFace, MediaVideo, MediaVoice} {
		name := livenessEndpoint(kind)
		g.breakers[name] = circuit.New(name, breakerOpts...)
	}
	return g, nil
}

func ocrEndpoint(kind DocumentKind) string  { return "ocr:" + string(kind) }
func livenessEndpoint(kind MediaKind) string { return "liveness:" + string(kind) }

type ocrResponse struct {
	DocumentNumber string            `json:"document_number"`
	Fields         map[string]string `json:"fields"`
	Confidence     *float64          `json:"confidence"`
}

type livenessResponse struct {
	Confidence    *float64 `json:"confidence"`
	LivenessScore *float64 `json:"liveness_score"`
}

// ExtractDocument uploads a document image to the OCR endpoint for its kind.
func (g *HTTPGateway) ExtractDocument(ctx context.Context, kind DocumentKind, image Media) (*DocumentExtraction, error) {
	endpoint := ocrEndpoint(kind)
	if _, ok := g.breakers[endpoint]; !ok {
		return nil, NewProviderError(ErrorBadData, ocrProviderID, "unsupported document kind "+string(kind), nil)
	}
	target := strings.TrimRight(g.cfg.OCRBaseURL, "/") + "/v1/ocr/" + url.PathEscape(string(kind))

	var resp ocrResponse
	if err := g.call(ctx, endpoint, ocrProviderID, target, image, &resp); err != nil {
		return nil, err
	}
	if resp.Confidence == nil || !inUnitRange(*resp.Confidence) {
		return nil, g.contractMismatch(endpoint, ocrProviderID, "confidence missing or out of range")
	}
	fields := resp.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return &DocumentExtraction{
		ProviderID:    ocrProviderID,
		Fields:        fields,
		PrimaryNumber: strings.TrimSpace(resp.DocumentNumber),
		Confidence:    *resp.Confidence,
		CheckedAt:     g.now(),
	}, nil
}

// ScoreLiveness uploads face, video or voice media to the liveness endpoint.
// Voice responses may omit the liveness score; confidence is used instead.
func (g *HTTPGateway) ScoreLiveness(ctx context.Context, kind MediaKind, media Media) (*LivenessResult, error) {
	endpoint := livenessEndpoint(kind)
	if _, ok := g.breakers[endpoint]; !ok {
		return nil, NewProviderError(ErrorBadData, livenessProviderID, "unsupported media kind "+string(kind), nil)
	}
	target := strings.TrimRight(g.cfg.LivenessBaseURL, "/") + "/v1/liveness/" + url.PathEscape(string(kind))

	var resp livenessResponse
	if err := g.call(ctx, endpoint, livenessProviderID, target, media, &resp); err != nil {
		return nil, err
	}
	if resp.Confidence == nil || !inUnitRange(*resp.Confidence) {
		return nil, g.contractMismatch(endpoint, livenessProviderID, "confidence missing or out of range")
	}
	score := *resp.Confidence
	if resp.LivenessScore != nil {
		if !inUnitRange(*resp.LivenessScore) {
			return nil, g.contractMismatch(endpoint, livenessProviderID, "liveness score out of range")
		}
		score = *resp.LivenessScore
	} else if kind != MediaVoice {
		return nil, g.contractMismatch(endpoint, livenessProviderID, "liveness score missing")
	}
	return &LivenessResult{
		ProviderID:    livenessProviderID,
		Confidence:    *resp.Confidence,
		LivenessScore: score,
		CheckedAt:     g.now(),
	}, nil
}

func (g *HTTPGateway) call(ctx context.Context, endpoint, providerID, target string, media Media, out any) error {
	breaker := g.breakers[endpoint]
	if !breaker.Allow() {
		g.metrics.ObserveProviderCall(endpoint, "circuit_open", 0)
		return NewProviderError(ErrorProviderOutage, providerID, "circuit open for "+endpoint, nil)
	}

	body, contentType, err := multipartBody(media)
	if err != nil {
		return NewProviderError(ErrorInternal, providerID, "encode upload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return NewProviderError(ErrorInternal, providerID, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	start := g.now()
	resp, err := g.client.Do(req)
	if err != nil {
		return g.fail(ctx, endpoint, start, classifyTransportError(providerID, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return g.fail(ctx, endpoint, start, classifyTransportError(providerID, err))
	}
	if resp.StatusCode != http.StatusOK {
		return g.fail(ctx, endpoint, start, classifyStatus(providerID, resp.StatusCode))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return g.fail(ctx, endpoint, start, NewProviderError(ErrorContractMismatch, providerID, "decode response", err))
	}

	if _, change := breaker.RecordSuccess(); change.Closed {
		g.metrics.SetCircuitOpen(endpoint, false)
		g.logger.InfoContext(ctx, "provider circuit closed", "endpoint", endpoint)
	}
	g.metrics.ObserveProviderCall(endpoint, "ok", g.now().Sub(start))
	return nil
}

func (g *HTTPGateway) fail(ctx context.Context, endpoint string, start time.Time, perr *ProviderError) error {
	if countsAgainstCircuit(perr.Category) {
		if _, change := g.breakers[endpoint].RecordFailure(); change.Opened {
			g.metrics.SetCircuitOpen(endpoint, true)
			g.logger.WarnContext(ctx, "provider circuit opened",
				"endpoint", endpoint,
				"category", string(perr.Category),
			)
		}
	}
	g.metrics.ObserveProviderCall(endpoint, string(perr.Category), g.now().Sub(start))
	g.logger.WarnContext(ctx, "provider call failed",
		"endpoint", endpoint,
		"category", string(perr.Category),
		"error", perr,
	)
	return perr
}

func (g *HTTPGateway) contractMismatch(endpoint, providerID, msg string) error {
	g.metrics.ObserveProviderCall(endpoint, string(ErrorContractMismatch), 0)
	return NewProviderError(ErrorContractMismatch, providerID, msg, nil)
}

func multipartBody(media Media) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="capture"`)
	ct := media.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(media.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

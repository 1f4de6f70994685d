// Package ingest implements the HTTP ingestion and pulse-read surface:
// POST /telemetry, GET /pulse/snapshot, and GET /pulse/stream (SSE).
// Routing itself is go-chi/chi; per-tenant rate limiting is
// golang.org/x/time/rate.
package ingest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sentientiq/pulse-engine/internal/session"
	"github.com/sentientiq/pulse-engine/internal/shard"
	"github.com/sentientiq/pulse-engine/internal/telemetry"
)

const (
	maxBatchBytes = 256 * 1024
	sseHeartbeat  = 15 * time.Second
	sseInterval   = 3 * time.Second

	// eviVarianceNormalizer scales the raw variance of emotion-label
	// proportions across active sessions into the published [0,100] index.
	// Perfectly uniform distributions across the observed labels push
	// variance near zero (low volatility); a single dominant label with the
	// rest idle pushes it well above this normalizer, clamped at 100.
	eviVarianceNormalizer = 0.05
)

// pulsePayload is the wire shape for GET /pulse/snapshot and each SSE
// /pulse/stream frame: a volatility index, the aggregate emotion-label
// distribution across active sessions, the snapshot of every session in
// the store, and the instant the payload was built.
type pulsePayload struct {
	EVI      int                `json:"evi"`
	Emotions map[string]int     `json:"emotions"`
	Sample   []session.Snapshot `json:"sample"`
	Ts       time.Time          `json:"ts"`
}

// buildPulsePayload reads the live session store and assembles one
// pulsePayload, shared by both the polling snapshot endpoint and every SSE
// frame so the two surfaces never drift apart.
func (s *Server) buildPulsePayload(now time.Time) pulsePayload {
	snapshots := s.store.Snapshot()

	emotions := make(map[string]int)
	for _, snap := range snapshots {
		if snap.HasEmotion {
			emotions[string(snap.LastEmotion.Label)]++
		}
	}

	return pulsePayload{
		EVI:      computeEVI(emotions),
		Emotions: emotions,
		Sample:   snapshots,
		Ts:       now,
	}
}

// computeEVI turns a count-per-label distribution into a bounded [0,100]
// volatility index: the variance of each label's share of the total,
// scaled by eviVarianceNormalizer and clamped. A single active session (or
// none) reports 0 — there is nothing to vary against yet.
func computeEVI(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total <= 1 {
		return 0
	}

	mean := 1.0 / float64(len(counts))
	var variance float64
	for _, n := range counts {
		share := float64(n) / float64(total)
		delta := share - mean
		variance += delta * delta
	}
	variance /= float64(len(counts))

	evi := int((variance / eviVarianceNormalizer) * 100)
	if evi < 0 {
		evi = 0
	}
	if evi > 100 {
		evi = 100
	}
	return evi
}

// Server exposes the ingest and pulse-read HTTP endpoints.
type Server struct {
	pool    *shard.Pool
	store   *session.Store
	limiter *tenantLimiters
	log     *zap.Logger
}

// NewServer builds a Server submitting accepted events to pool and reading
// snapshots from store. ratePerSecond/burst configure the per-tenant
// rate.Limiter (TENANT_RATE_LIMIT).
func NewServer(pool *shard.Pool, store *session.Store, ratePerSecond float64, burst int, log *zap.Logger) *Server {
	return &Server{
		pool:    pool,
		store:   store,
		limiter: newTenantLimiters(ratePerSecond, burst),
		log:     log,
	}
}

// Mount registers the ingest routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Post("/telemetry", s.HandleTelemetry)
	r.Get("/pulse/snapshot", s.HandlePulseSnapshot)
	r.Get("/pulse/stream", s.HandlePulseStream)
}

// HandleTelemetry implements POST /telemetry: 204 on full or partial
// acceptance, 413 if the body exceeds maxBatchBytes, 429 if the tenant's
// rate limit is exhausted, 400 on malformed JSON or an unrecognized event
// type. Oversized and malformed batches are rejected in full — no partial
// apply.
func (s *Server) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set("X-Correlation-ID", correlationID)

	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBytes)

	var batch telemetry.Batch
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&batch); err != nil {
		if isTooLarge(err) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		if s.log != nil {
			s.log.Warn("malformed telemetry batch", zap.String("correlation_id", correlationID), zap.Error(err))
		}
		http.Error(w, "malformed batch", http.StatusBadRequest)
		return
	}

	if batch.TenantID == "" {
		http.Error(w, "tenant_id required", http.StatusBadRequest)
		return
	}
	if !s.limiter.Allow(batch.TenantID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	for _, ev := range batch.Events {
		if !ev.Type.Valid() {
			http.Error(w, "unrecognized event type: "+string(ev.Type), http.StatusBadRequest)
			return
		}
	}

	for _, ev := range batch.Events {
		if ev.TenantID == "" {
			ev.TenantID = batch.TenantID
		}
		s.pool.Submit(ev)
	}
	w.WriteHeader(http.StatusNoContent)
}

func isTooLarge(err error) bool {
	return err != nil && err.Error() == "http: request body too large"
}

// HandlePulseSnapshot implements GET /pulse/snapshot: the current emotion
// volatility index, label distribution, and a snapshot of every live session.
func (s *Server) HandlePulseSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.buildPulsePayload(time.Now()))
}

// HandlePulseStream implements GET /pulse/stream: a Server-Sent Events
// feed of periodic snapshots, with a 15s heartbeat comment to keep
// intermediary proxies from closing an otherwise idle connection.
func (s *Server) HandlePulseStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(sseInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			data, err := json.Marshal(s.buildPulsePayload(time.Now()))
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// tenantLimiters holds one rate.Limiter per tenant, created lazily.
type tenantLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newTenantLimiters(rps float64, burst int) *tenantLimiters {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 200
	}
	return &tenantLimiters{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (t *tenantLimiters) Allow(tenantID string) bool {
	t.mu.Lock()
	l, ok := t.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.rps), t.burst)
		t.limiters[tenantID] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

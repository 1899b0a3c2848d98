package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/adapter"
	"github.com/danielr-rlty/rlty-platform/pkg/behavior"
	"github.com/danielr-rlty/rlty-platform/pkg/config"
	"github.com/danielr-rlty/rlty-platform/pkg/decision"
	"github.com/danielr-rlty/rlty-platform/pkg/hardening"
	"github.com/danielr-rlty/rlty-platform/pkg/httpx"
	"github.com/danielr-rlty/rlty-platform/pkg/ingest"
	"github.com/danielr-rlty/rlty-platform/pkg/invariant"
	"github.com/danielr-rlty/rlty-platform/pkg/metrics"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/normalize"
	"github.com/danielr-rlty/rlty-platform/pkg/ratelimit"
	"github.com/danielr-rlty/rlty-platform/pkg/review"
	"github.com/danielr-rlty/rlty-platform/pkg/session"
	"github.com/danielr-rlty/rlty-platform/pkg/store"
	"github.com/danielr-rlty/rlty-platform/pkg/telemetry"
	"github.com/danielr-rlty/rlty-platform/pkg/vault"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	Cfg                 config.Config
	Cache               store.Cache
	Vault               vault.Vault
	Recorder            *vault.Recorder
	Adapter             *adapter.Adapter
	Validator           *invariant.Validator
	Sessions            *session.Registry
	Dispatcher          *review.Dispatcher
	Events              *review.Hub
	Metrics             *metrics.Registry
	Decision            decision.Config
	Ingest              *ingest.Loop
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
}

type serverDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type serverDBCloser interface {
	serverDB
	Close()
}

type initTelemetryFunc func(ctx context.Context, opts telemetry.Options) (func(context.Context) error, error)
type openDBFunc func(ctx context.Context, cfg store.PostgresConfig) (serverDBCloser, error)
type openRedisFunc func(ctx context.Context, cfg store.RedisConfig) (*redis.Client, error)
type listenFunc func(server *http.Server) error
type startLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        = func(ctx context.Context, cfg store.PostgresConfig) (serverDBCloser, error) {
		return store.NewPostgresPool(ctx, cfg)
	}
	openRedisFn = store.NewRedis
	listenFn    = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFn    = func(s *Server) {
		go s.Dispatcher.Run(context.Background())
		go s.metricsLoop(context.Background())
		if s.Ingest != nil {
			go func() {
				if err := s.Ingest.Run(context.Background()); err != nil {
					log.Printf("ingest: loop stopped: %v", err)
				}
			}()
		}
	}
)

func main() {
	if err := runConsentd(initTelemetryFn, openDBFn, openRedisFn, listenFn, startLoopsFn); err != nil {
		logFatalf("consentd: %v", err)
	}
}

// crisisSink sits between the session registry and the review
// dispatcher so every crisis flag is counted and vaulted before it
// goes out.
type crisisSink struct {
	dispatcher *review.Dispatcher
	recorder   *vault.Recorder
	metrics    *metrics.Registry
}

func (c *crisisSink) Submit(flag models.CrisisFlag) {
	c.metrics.IncCrisis(string(flag.Trigger))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	c.recorder.RecordCrisis(ctx, flag)
	cancel()
	c.dispatcher.Submit(flag)
}

func runConsentd(
	initTelemetry initTelemetryFunc,
	openDB openDBFunc,
	openRedis openRedisFunc,
	listen listenFunc,
	startLoops startLoopsFunc,
) error {
	ctx := context.Background()
	cfg := config.Load()

	shutdown, err := initTelemetry(ctx, telemetry.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = openRedis(ctx, store.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			TLS:        cfg.RedisTLS,
			ServerName: cfg.RedisTLSServerName,
			CACertFile: cfg.RedisTLSCAFile,
			RequireTLS: cfg.RedisRequireTLS,
		})
		if err != nil {
			log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
			redisClient = nil
		}
	} else {
		log.Printf("no CONSENT_REDIS_ADDR configured, using in-memory cache/limits")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	hardeningOpts := hardening.Options{
		Service:         "consentd",
		Environment:     env("ENVIRONMENT", env("APP_ENV", "")),
		Strict:          envBool("CONSENT_STRICT_PROD_SECURITY", true),
		DBRequireTLS:    cfg.DBRequireTLS,
		RedisAddr:       cfg.RedisAddr,
		RedisRequireTLS: cfg.RedisRequireTLS,
		CORSOrigins:     cfg.CORSOrigins,
	}
	if cfg.ReviewURL != "" {
		hardeningOpts.RequiredSecrets = append(hardeningOpts.RequiredSecrets,
			hardening.Secret{Name: "CONSENT_REVIEW_AUTH_TOKEN", Value: cfg.ReviewAuthToken})
	}
	if err := hardening.ValidateProduction(hardeningOpts); err != nil {
		return err
	}

	var artifacts vault.Vault
	if cfg.PostgresDSN != "" {
		pool, err := openDB(ctx, store.PostgresConfig{
			DSN:        cfg.PostgresDSN,
			RequireTLS: cfg.DBRequireTLS,
			MaxConns:   int32(cfg.DBMaxConns),
		})
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()
		artifacts = &vault.PostgresVault{DB: pool}
	} else {
		log.Printf("vault: no CONSENT_POSTGRES_DSN configured, using in-memory artifact store")
		artifacts = vault.NewMemoryVault()
	}
	recorder := &vault.Recorder{Vault: artifacts}

	hub := review.NewHub()
	dispatcher := review.NewDispatcher(review.Config{
		URL:        cfg.ReviewURL,
		AuthHeader: cfg.ReviewAuthHeader,
		AuthToken:  cfg.ReviewAuthToken,
		Retries:    cfg.ReviewRetries,
		RetryDelay: cfg.ReviewRetryDelay,
		QueueDepth: cfg.CrisisQueueDepth,
	}, telemetry.InstrumentClient(&http.Client{Timeout: envDurationMS("CONSENT_REVIEW_TIMEOUT_MS", 10000)}), hub)

	reg := metrics.NewRegistry()
	dispatcher.Observer = reg.IncDeliveryState
	sink := &crisisSink{dispatcher: dispatcher, recorder: recorder, metrics: reg}
	sessions := session.NewRegistry(session.Config{
		Please: behavior.PleaseConfig{
			ConversionThreshold: cfg.PleaseConversion,
			CrisisThreshold:     cfg.PleaseCrisis,
		},
		Bargaining: behavior.DefaultBargainingConfig(),
		Weights:    behavior.DefaultWeights(),
		DedupeTTL:  cfg.EventDedupeTTL,
	}, cache, sink)

	ad := adapter.New(cfg.AdapterBudget, &adapter.CacheSource{Cache: cache, Key: "adapter:mapping"})

	decisionCfg := decision.DefaultConfig()
	if !cfg.StrictMode {
		decisionCfg.Policy = decision.PolicyPermissive
	}

	s := &Server{
		Cfg:                 cfg,
		Cache:               cache,
		Vault:               artifacts,
		Recorder:            recorder,
		Adapter:             ad,
		Validator:           invariant.New(ad),
		Sessions:            sessions,
		Dispatcher:          dispatcher,
		Events:              hub,
		Metrics:             reg,
		Decision:            decisionCfg,
		RateLimitEnabled:    cfg.RateLimitEnabled,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.MaxRequestBodyBytes <= 0 {
		s.MaxRequestBodyBytes = 1 << 20
	}
	if s.RateLimitEnabled {
		window := time.Second * time.Duration(envInt("CONSENT_RATE_LIMIT_WINDOW_SEC", 60))
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, window)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(window)
		}
	}
	if cfg.KafkaBrokers != "" {
		consumer, err := ingest.NewKafkaConsumer(ingest.KafkaConfig{
			Brokers: strings.Split(cfg.KafkaBrokers, ","),
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		s.Ingest = &ingest.Loop{
			Consumer:          consumer,
			Sessions:          sessions,
			MaxUtteranceBytes: cfg.MaxUtteranceBytes,
		}
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(cfg.CORSOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "consentd"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Post("/v1/normalize", s.handleNormalize)
	r.Post("/v1/normalize/findings", s.handleNormalizeFindings)
	r.Get("/v1/templates/{key}", s.handleTemplate)
	r.Post("/v1/adapter/translate", s.handleTranslate)
	r.Post("/v1/validate", s.handleValidate)
	r.Post("/v1/sessions/{session_id}/events", s.handleSessionEvent)
	r.Get("/v1/sessions/{session_id}/scores", s.handleScores)
	r.Get("/v1/sessions/{session_id}/prompt-timing", s.handlePromptTiming)
	r.Delete("/v1/sessions/{session_id}", s.handleCloseSession)
	r.Get("/v1/artifacts/{artifact_id}", s.handleGetArtifact)
	r.Get("/v1/findings/stream", s.streamFindings)

	if startLoops != nil {
		startLoops(s)
	}

	log.Printf("consentd listening on %s", cfg.HTTPAddr)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

type normalizeRequest struct {
	Text      string   `json:"text"`
	Texts     []string `json:"texts,omitempty"`
	SubjectID string   `json:"subject_id,omitempty"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if len(req.Texts) > 0 {
		httpx.WriteJSON(w, 200, map[string]interface{}{"results": normalize.NormalizeBulk(req.Texts)})
		return
	}
	if req.Text == "" {
		httpx.Error(w, 400, "text required")
		return
	}
	res := normalize.Normalize(req.Text)
	artifactID := s.Recorder.RecordNormalization(r.Context(), req.SubjectID, res)
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"result":      res,
		"artifact_id": artifactID,
	})
}

func (s *Server) handleNormalizeFindings(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if req.Text == "" {
		httpx.Error(w, 400, "text required")
		return
	}
	findings := normalize.Findings(req.Text)
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"normalized": len(findings) == 0,
		"findings":   findings,
	})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	httpx.WriteJSON(w, 200, map[string]string{"key": key, "text": normalize.Template(key)})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	direction := strings.TrimSpace(r.URL.Query().Get("direction"))
	var rec models.ConsentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	var (
		tr  models.Translation
		err error
	)
	start := time.Now()
	switch direction {
	case "current", "to_current":
		tr, err = s.Adapter.ToCurrent(r.Context(), rec)
	case "legacy", "to_legacy":
		tr, err = s.Adapter.ToLegacy(r.Context(), rec)
	default:
		httpx.Error(w, 400, "direction must be current or legacy")
		return
	}
	s.Metrics.ObserveLatency("adapter_translate", time.Since(start))
	if err != nil {
		if errors.Is(err, adapter.ErrBudgetExceeded) {
			s.Metrics.IncReason("BUDGET_EXCEEDED")
			httpx.Error(w, 503, "translation budget exceeded")
			return
		}
		httpx.Error(w, 500, "translation failed")
		return
	}
	s.Metrics.IncAdapterTranslations()
	artifactID := ""
	if tr.Fidelity == models.FidelityLossy {
		artifactID = s.Recorder.RecordTranslation(r.Context(), tr)
		s.Events.Publish(review.NewFinding(review.FindingUnmappable, "", rec.SubjectID, tr))
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"translation": tr,
		"artifact_id": artifactID,
	})
}

type validateRequest struct {
	Record    models.ConsentRecord `json:"record"`
	Mode      string               `json:"mode,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	mode, err := resolveMode(req.Mode, s.Cfg.DefaultMode)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	start := time.Now()
	result, err := s.Validator.Validate(r.Context(), req.Record, mode)
	s.Metrics.ObserveValidateLatency(time.Since(start))
	budgetExceeded := errors.Is(err, adapter.ErrBudgetExceeded)
	if err != nil && !budgetExceeded {
		if errors.Is(err, invariant.ErrUnknownMode) {
			httpx.Error(w, 400, err.Error())
			return
		}
		httpx.Error(w, 500, "validation failed")
		return
	}

	var scores models.Scores
	if req.SessionID != "" {
		if sc, serr := s.Sessions.Scores(req.SessionID); serr == nil {
			scores = sc
		}
	}
	allow, iv, reason := decision.Decide(s.Decision, decision.Inputs{
		Validation:     result,
		Scores:         scores,
		Crisis:         scores.PleaseCount >= s.Cfg.PleaseCrisis,
		BudgetExceeded: budgetExceeded,
	})
	verdict := decision.VerdictDeny
	if allow {
		verdict = decision.VerdictAllow
	}
	s.Metrics.IncVerdict(verdict)
	s.Metrics.IncReason(reason)
	s.Metrics.IncVerdictReason(verdict, reason)

	artifactID := ""
	if result.Divergent {
		artifactID = s.Recorder.RecordDivergence(r.Context(), req.Record, result)
		s.Events.Publish(review.NewFinding(review.FindingDivergence, req.SessionID, req.Record.SubjectID, result))
	}
	if iv != nil {
		s.Events.Publish(review.NewFinding(review.FindingIntervention, req.SessionID, req.Record.SubjectID, iv))
		s.Dispatcher.SuggestIntervention(r.Context(), req.SessionID, iv)
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"allow":        allow,
		"reason_code":  reason,
		"intervention": iv,
		"validation":   result,
		"artifact_id":  artifactID,
	})
}

func resolveMode(raw, def string) (string, error) {
	if raw == "" {
		raw = def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dual", invariant.ModeDualCompare:
		return invariant.ModeDualCompare, nil
	case "legacy", invariant.ModeLegacyOnly:
		return invariant.ModeLegacyOnly, nil
	case "current", invariant.ModeCurrentOnly:
		return invariant.ModeCurrentOnly, nil
	default:
		return "", fmt.Errorf("unknown validation mode: %s", raw)
	}
}

func (s *Server) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.SessionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	ev.SessionID = chi.URLParam(r, "session_id")
	res, err := s.Sessions.Apply(r.Context(), ev)
	if err != nil {
		if errors.Is(err, session.ErrMalformedEvent) {
			httpx.Error(w, 400, err.Error())
			return
		}
		httpx.Error(w, 500, "event rejected")
		return
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"duplicate":         res.Duplicate,
		"please_count":      res.PleaseCount,
		"bargaining_events": len(res.Bargaining),
		"crisis":            res.Crisis != nil,
	})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	scores, err := s.Sessions.Scores(id)
	if err != nil {
		httpx.Error(w, 404, "session not found")
		return
	}
	httpx.WriteJSON(w, 200, scores)
}

func (s *Server) handlePromptTiming(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	now := time.Now().UTC()
	delay, ok, err := s.Sessions.PromptTiming(id, now)
	if err != nil {
		httpx.Error(w, 404, "session not found")
		return
	}
	upsell, _ := s.Sessions.UpsellTiming(id, now)
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"recommended":        ok,
		"delay_ms":           delay.Milliseconds(),
		"upsell_recommended": upsell,
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.Sessions.Close(chi.URLParam(r, "session_id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "artifact_id")
	a, err := s.Vault.Retrieve(r.Context(), id)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			httpx.Error(w, 404, "artifact not found")
			return
		}
		httpx.Error(w, 500, "retrieve failed")
		return
	}
	httpx.WriteJSON(w, 200, a)
}

func (s *Server) streamFindings(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, review.NewFinding("ready", "", "", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case f, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, f)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireIdleSessions()
			s.updateOperationalMetrics()
		}
	}
}

func (s *Server) expireIdleSessions() {
	if expired := s.Sessions.ExpireIdle(time.Now().UTC(), s.Cfg.SessionTTL); expired > 0 {
		log.Printf("session: expired %d idle sessions past ttl %s", expired, s.Cfg.SessionTTL)
	}
}

func (s *Server) updateOperationalMetrics() {
	if s.Metrics == nil {
		return
	}
	s.Metrics.SetGauge("sessions_active", float64(s.Sessions.Len()))
	s.Metrics.SetGauge("review_pending", float64(len(s.Dispatcher.Pending())))
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		d := s.RateLimiter.Allow(host, s.RateLimitPerMinute)
		if !d.Allowed {
			retry := time.Until(d.ResetAt)
			if retry < 0 {
				retry = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			httpx.Error(w, 429, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

func envDurationMS(k string, def int) time.Duration {
	return time.Millisecond * time.Duration(envInt(k, def))
}

// Package api exposes the ledger over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/health"
	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/internal/pipeline"
	"github.com/jmerrifield20/logline/internal/query"
	"github.com/jmerrifield20/logline/internal/trust"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/result"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// Handler serves the ledger routes.
type Handler struct {
	pipeline   *pipeline.Pipeline
	engine     *query.Engine
	repo       ledger.Repository
	registry   *trust.Registry
	signer     *signature.Keypair
	integrity  *health.Checker
	apiKey     string
	apiKeyHash string
	logger     *zap.Logger
}

// NewHandler creates a Handler. registry may be nil, in which case trust
// routes answer 503 and verification skips signature checks.
func NewHandler(p *pipeline.Pipeline, repo ledger.Repository, registry *trust.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline: p,
		engine:   query.New(repo),
		repo:     repo,
		registry: registry,
		logger:   logger,
	}
}

// SetSigner enables ?sign=true on POST /append.
func (h *Handler) SetSigner(kp *signature.Keypair) {
	h.signer = kp
}

// SetIntegrity makes /healthz report the latest background verification.
func (h *Handler) SetIntegrity(c *health.Checker) {
	h.integrity = c
}

// SetAPIKey protects every non-public route. keyHash is a bcrypt hash and
// is used only when key is empty.
func (h *Handler) SetAPIKey(key, keyHash string) {
	h.apiKey = key
	h.apiKeyHash = keyHash
}

// Register mounts the ledger routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Health)
	rg.GET("/metrics", MetricsHandler())
	rg.GET("/trust/keys", h.ListTrustKeys)

	p := rg.Group("", APIKeyAuth(h.apiKey, h.apiKeyHash))
	{
		p.POST("/append", h.Append)
		p.GET("/scan", h.Scan)
		p.GET("/query", h.Query)
		p.GET("/atomics/:hash", h.GetAtomic)
		p.GET("/atomics/:hash/lineage", h.Lineage)
		p.GET("/traces/:trace_id", h.Trace)
		p.GET("/exists/:hash", h.Exists)
		p.GET("/stats", h.Stats)
		p.GET("/export", h.Export)
		p.GET("/verify", h.Verify)
		p.POST("/trust/keys", h.AddTrustKey)
		p.DELETE("/trust/keys/:key", h.RemoveTrustKey)
		p.POST("/trust/rotate", h.RotateTrustKey)
	}
}

// ─── Request / Response types ────────────────────────────────────────────────

type queryResponse struct {
	Atomics []ledger.Record `json:"atomics"`
	Count   int             `json:"count"`
}

type existsResponse struct {
	Hash   string `json:"hash"`
	Exists bool   `json:"exists"`
}

type verifyResponse struct {
	Valid  bool           `json:"valid"`
	Error  string         `json:"error,omitempty"`
	Report *ledger.Report `json:"report"`
}

type trustKeysResponse struct {
	Keys  []trust.Entry `json:"keys"`
	Count int           `json:"count"`
}

type addTrustKeyRequest struct {
	PublicKey string      `json:"public_key" binding:"required"`
	Scope     trust.Scope `json:"scope"`
	Peer      string      `json:"peer"`
}

type rotateRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	RetainOld bool   `json:"retain_old"`
}

// ─── Health ──────────────────────────────────────────────────────────────────

// Health handles GET /healthz. It reads one record to prove the backend
// answers and, when background verification runs, reports its last result.
func (h *Handler) Health(c *gin.Context) {
	if _, err := h.repo.Scan(c.Request.Context(), ledger.ScanOptions{Limit: 1}); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	resp := gin.H{"status": "ok"}
	if h.integrity != nil {
		resp["integrity"] = h.integrity.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// ─── Append ──────────────────────────────────────────────────────────────────

// Append handles POST /append. The body is one atomic; ?validate_only=true
// stops before persisting and ?sign=true signs with the server key.
func (h *Handler) Append(c *gin.Context) {
	validateOnly, err := boolQuery(c, "validate_only")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	sign, err := boolQuery(c, "sign")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if sign && h.signer == nil {
		badRequest(c, "signing is not enabled on this server")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Kind: ledgererr.KindInvalidInput.String()})
			return
		}
		badRequest(c, "failed to read request body")
		return
	}
	a, err := atomic.Parse(body)
	if err != nil {
		h.writeError(c, "append", &ledgererr.ValidationError{Reasons: []string{err.Error()}})
		return
	}

	opts := pipeline.Options{ValidateOnly: validateOnly}
	if sign {
		opts.SignWith = h.signer
	}
	status := http.StatusCreated
	if validateOnly {
		status = http.StatusOK
	}
	respond(h, c, "append", h.pipeline.Execute(c.Request.Context(), a, opts), status)
}

// ─── Read side ───────────────────────────────────────────────────────────────

// Scan handles GET /scan?cursor=&limit=&status=&entity_type=.
func (h *Handler) Scan(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	opts := ledger.ScanOptions{
		Limit:      limit,
		Cursor:     c.Query("cursor"),
		Status:     c.Query("status"),
		EntityType: atomic.EntityType(c.Query("entity_type")),
	}
	respond(h, c, "scan", h.engine.Scan(c.Request.Context(), opts), http.StatusOK)
}

// Query handles GET /query?trace_id=&entity_type=&owner_id=&tenant_id=&from=&to=&limit=.
func (h *Handler) Query(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	from, err := timeQuery(c, "from")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := timeQuery(c, "to")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	opts := ledger.QueryOptions{
		TraceID:    c.Query("trace_id"),
		EntityType: atomic.EntityType(c.Query("entity_type")),
		OwnerID:    c.Query("owner_id"),
		TenantID:   c.Query("tenant_id"),
		From:       from,
		To:         to,
		Limit:      limit,
	}
	r := result.Map(h.engine.Query(c.Request.Context(), opts), func(recs []ledger.Record) queryResponse {
		return queryResponse{Atomics: recs, Count: len(recs)}
	})
	respond(h, c, "query", r, http.StatusOK)
}

// GetAtomic handles GET /atomics/:hash.
func (h *Handler) GetAtomic(c *gin.Context) {
	respond(h, c, "get", h.engine.ByHash(c.Request.Context(), c.Param("hash")), http.StatusOK)
}

// Lineage handles GET /atomics/:hash/lineage, root first.
func (h *Handler) Lineage(c *gin.Context) {
	r := result.Map(h.engine.Lineage(c.Request.Context(), c.Param("hash")), func(recs []ledger.Record) queryResponse {
		return queryResponse{Atomics: recs, Count: len(recs)}
	})
	respond(h, c, "lineage", r, http.StatusOK)
}

// Trace handles GET /traces/:trace_id.
func (h *Handler) Trace(c *gin.Context) {
	r := result.Map(h.engine.ByTrace(c.Request.Context(), c.Param("trace_id")), func(recs []ledger.Record) queryResponse {
		return queryResponse{Atomics: recs, Count: len(recs)}
	})
	respond(h, c, "trace", r, http.StatusOK)
}

// Exists handles GET /exists/:hash.
func (h *Handler) Exists(c *gin.Context) {
	hash := c.Param("hash")
	r := result.Map(h.engine.Exists(c.Request.Context(), hash), func(ok bool) existsResponse {
		return existsResponse{Hash: hash, Exists: ok}
	})
	respond(h, c, "exists", r, http.StatusOK)
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	respond(h, c, "stats", h.engine.Stats(c.Request.Context()), http.StatusOK)
}

// Export handles GET /export, streaming the ledger as NDJSON in ledger order.
func (h *Handler) Export(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	n, err := ledger.Export(c.Request.Context(), h.repo, c.Writer)
	if err != nil {
		// Headers are already sent; the client sees a short stream.
		h.logger.Error("export failed", zap.Int("written", n), zap.Error(err), requestIDField(c))
		return
	}
	h.logger.Debug("export complete", zap.Int("written", n))
}

// Verify handles GET /verify. It walks the full ledger and reports integrity.
func (h *Handler) Verify(c *gin.Context) {
	var keys ledger.KeySet
	if h.registry != nil {
		keys = h.registry
	}
	report, err := ledger.NewVerifier(h.repo, keys).Verify(c.Request.Context())
	if err != nil {
		if ledgererr.KindOf(err) != ledgererr.KindTampered {
			h.writeError(c, "verify", err)
			return
		}
		RecordVerification(false)
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, verifyResponse{Valid: false, Error: err.Error(), Report: report})
		return
	}
	RecordVerification(true)
	c.JSON(http.StatusOK, verifyResponse{Valid: true, Report: report})
}

// ─── Trust registry ──────────────────────────────────────────────────────────

// ListTrustKeys handles GET /trust/keys?scope=. Federation peers read the
// local and rotated keys from here.
func (h *Handler) ListTrustKeys(c *gin.Context) {
	if !h.trustEnabled(c) {
		return
	}
	scope := trust.Scope(c.Query("scope"))
	if scope != "" && !scope.Valid() {
		badRequest(c, "unknown scope "+string(scope))
		return
	}
	keys := []trust.Entry{}
	for _, e := range h.registry.Entries() {
		if scope == "" || e.Scope == scope {
			keys = append(keys, e)
		}
	}
	c.JSON(http.StatusOK, trustKeysResponse{Keys: keys, Count: len(keys)})
}

// AddTrustKey handles POST /trust/keys.
func (h *Handler) AddTrustKey(c *gin.Context) {
	if !h.trustEnabled(c) {
		return
	}
	var req addTrustKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.registry.AddEntry(trust.Entry{Key: req.PublicKey, Scope: req.Scope, Peer: req.Peer}); err != nil {
		h.writeError(c, "add trust key", err)
		return
	}
	SetTrustedKeysGauge(h.registry.Len())
	entry, _ := h.registry.Get(req.PublicKey)
	h.logger.Info("trust key added", zap.String("scope", string(entry.Scope)), zap.String("key", entry.Key))
	c.JSON(http.StatusCreated, entry)
}

// RemoveTrustKey handles DELETE /trust/keys/:key.
func (h *Handler) RemoveTrustKey(c *gin.Context) {
	if !h.trustEnabled(c) {
		return
	}
	if err := h.registry.Remove(c.Param("key")); err != nil {
		h.writeError(c, "remove trust key", err)
		return
	}
	SetTrustedKeysGauge(h.registry.Len())
	h.logger.Info("trust key removed", zap.String("key", c.Param("key")))
	c.Status(http.StatusNoContent)
}

// RotateTrustKey handles POST /trust/rotate.
func (h *Handler) RotateTrustKey(c *gin.Context) {
	if !h.trustEnabled(c) {
		return
	}
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.registry.Rotate(req.PublicKey, req.RetainOld); err != nil {
		h.writeError(c, "rotate trust key", err)
		return
	}
	SetTrustedKeysGauge(h.registry.Len())
	h.logger.Info("trust key rotated", zap.Bool("retain_old", req.RetainOld))
	c.JSON(http.StatusOK, trustKeysResponse{Keys: h.registry.Entries(), Count: h.registry.Len()})
}

func (h *Handler) trustEnabled(c *gin.Context) bool {
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trust registry not configured"})
		return false
	}
	return true
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func respond[T any](h *Handler, c *gin.Context, op string, r result.Result[T], status int) {
	v, err := r.Unwrap()
	if err != nil {
		h.writeError(c, op, err)
		return
	}
	c.JSON(status, v)
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be true or false")
	}
	return v, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func timeQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

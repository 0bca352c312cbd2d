// Package httpapi exposes the scan endpoint for card readers and the operator API.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/card"
	"rfidattend/internal/httpmiddleware"
)

// Scanner decides one scan.
type Scanner interface {
	Submit(ctx context.Context, ev attendance.ScanEvent) attendance.Decision
}

// RecordLister reads persisted records.
type RecordLister interface {
	ListRecords(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
}

// ReloadSummary describes a freshly loaded reference snapshot.
type ReloadSummary struct {
	Students  int `json:"students"`
	Staff     int `json:"staff"`
	Slots     int `json:"slots"`
	Conflicts int `json:"conflicts"`
	Overlaps  int `json:"overlaps"`
}

// Reloader rebuilds and swaps the reference snapshot.
type Reloader func(ctx context.Context) (ReloadSummary, error)

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps wires the router.
type Deps struct {
	Scanner  Scanner
	Records  RecordLister
	Reload   Reloader
	Health   []HealthCheck
	Metrics  http.Handler
	Limiter  *httpmiddleware.TokenBucket
	LegacyOK bool
	// Cards normalizes the card filter of /v1/records like scans are.
	Cards card.Normalizer

	JWTSigningKey string
	JWTIssuer     string
	CORSOrigins   []string

	Logger *zap.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &handlers{deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(d.Logger, "/healthz", "/metrics"))
	r.Use(SecurityHeaders())
	r.Use(CORS(d.CORSOrigins))

	r.GET("/", h.index)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	r.GET("/healthz", h.healthz)

	scan := []gin.HandlerFunc{}
	if d.Limiter != nil {
		scan = append(scan, d.Limiter.Middleware(httpmiddleware.ClientIPKey))
	}
	r.GET("/log", append(scan, h.logScan)...)

	v1 := r.Group("/v1", auth.OperatorAuth(d.JWTSigningKey, d.JWTIssuer))
	v1.POST("/admin/reload", h.reload)
	v1.GET("/records", h.listRecords)
	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) index(c *gin.Context) {
	c.String(http.StatusOK, "RFID attendance server running")
}

// logScan is the reader endpoint: one plain-text token per request.
func (h *handlers) logScan(c *gin.Context) {
	ev := attendance.ScanEvent{
		RawCard:  c.Query("card_no"),
		ReaderID: strings.TrimSpace(c.Query("reader")),
	}
	d := h.deps.Scanner.Submit(c.Request.Context(), ev)

	status := http.StatusOK
	switch d.Outcome {
	case attendance.NoCard:
		status = http.StatusBadRequest
	case attendance.StorageError:
		status = http.StatusInternalServerError
	}
	c.String(status, d.Outcome.Token(h.deps.LegacyOK))
}

func (h *handlers) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for _, hc := range h.deps.Health {
		if err := hc.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[hc.Name] = err.Error()
			continue
		}
		checks[hc.Name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

func (h *handlers) reload(c *gin.Context) {
	if h.deps.Reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reload not configured"})
		return
	}
	sum, err := h.deps.Reload(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	claims, _ := c.Get(auth.ClaimsKey)
	if cl, ok := claims.(auth.Claims); ok {
		h.deps.Logger.Info("reference data reloaded",
			zap.String("operator", cl.Subject),
			zap.Int("students", sum.Students),
			zap.Int("staff", sum.Staff),
			zap.Int("slots", sum.Slots),
		)
	}
	c.JSON(http.StatusOK, sum)
}

type recordView struct {
	ID         string    `json:"id"`
	CardID     string    `json:"card_id"`
	Role       string    `json:"role"`
	PersonID   string    `json:"person_id"`
	Name       string    `json:"name"`
	Cohort     string    `json:"cohort"`
	Subject    string    `json:"subject"`
	Kind       string    `json:"kind,omitempty"`
	SessionKey string    `json:"session_key"`
	ReaderID   string    `json:"reader_id,omitempty"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	ScannedAt  time.Time `json:"scanned_at"`
}

func viewOf(r attendance.Record) recordView {
	return recordView{
		ID:         r.ID,
		CardID:     r.CardID,
		Role:       string(r.Role),
		PersonID:   r.PersonID,
		Name:       r.Name,
		Cohort:     r.Cohort(),
		Subject:    r.Subject,
		Kind:       r.Kind,
		SessionKey: r.SessionKey,
		ReaderID:   r.ReaderID,
		Date:       r.Date,
		Time:       r.Time,
		ScannedAt:  r.ScannedAt,
	}
}

func (h *handlers) listRecords(c *gin.Context) {
	f := attendance.Filter{
		Date:   strings.TrimSpace(c.Query("date")),
		CardID: h.deps.Cards.Normalize(c.Query("card")),
	}
	if f.Date != "" {
		if _, err := time.Parse("2006-01-02", f.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be an integer"})
		return
	}

	recs, err := h.deps.Records.ListRecords(c.Request.Context(), f)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list records failed"})
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewOf(r))
	}
	c.JSON(http.StatusOK, gin.H{"records": out})
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/card"
	"rfidattend/internal/clock"
	"rfidattend/internal/httpmiddleware"
	"rfidattend/internal/roster"
	"rfidattend/internal/schedule"
	"rfidattend/internal/store"
)

const (
	testKey    = "test-key"
	testIssuer = "rfid-attendance"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeScanner struct {
	outcome attendance.Outcome
	got     []attendance.ScanEvent
}

func (f *fakeScanner) Submit(_ context.Context, ev attendance.ScanEvent) attendance.Decision {
	f.got = append(f.got, ev)
	return attendance.Decision{Outcome: f.outcome}
}

type fakeLister struct {
	recs []attendance.Record
	err  error
	got  attendance.Filter
}

func (f *fakeLister) ListRecords(_ context.Context, flt attendance.Filter) ([]attendance.Record, error) {
	f.got = flt
	return f.recs, f.err
}

func do(r http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func operatorToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.Issue("ops", auth.RoleOperator, testIssuer, testKey, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok.Value
}

func TestLogScanStatusMapping(t *testing.T) {
	tests := []struct {
		outcome  attendance.Outcome
		legacy   bool
		wantCode int
		wantBody string
	}{
		{attendance.Accepted, false, http.StatusOK, "SCAN_ACCEPTED"},
		{attendance.Accepted, true, http.StatusOK, "OK"},
		{attendance.UnknownCard, false, http.StatusOK, "UNKNOWN_CARD"},
		{attendance.DuplicateScan, true, http.StatusOK, "DUPLICATE_SCAN"},
		{attendance.Ignored, false, http.StatusOK, "IGNORED"},
		{attendance.NoCard, false, http.StatusBadRequest, "NO_CARD"},
		{attendance.StorageError, false, http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantBody, func(t *testing.T) {
			sc := &fakeScanner{outcome: tt.outcome}
			r := NewRouter(Deps{Scanner: sc, LegacyOK: tt.legacy, JWTSigningKey: testKey})
			w := do(r, http.MethodGet, "/log?card_no=A1B2&reader=gate-1", "")
			if w.Code != tt.wantCode || w.Body.String() != tt.wantBody {
				t.Fatalf("got %d %q, want %d %q", w.Code, w.Body.String(), tt.wantCode, tt.wantBody)
			}
			if len(sc.got) != 1 || sc.got[0].RawCard != "A1B2" || sc.got[0].ReaderID != "gate-1" {
				t.Fatalf("scanner saw %+v", sc.got)
			}
		})
	}
}

func TestIndexAndRequestID(t *testing.T) {
	r := NewRouter(Deps{Scanner: &fakeScanner{}})
	w := do(r, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || w.Body.String() == "" {
		t.Fatalf("index = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestLogScanRateLimited(t *testing.T) {
	sc := &fakeScanner{outcome: attendance.Accepted}
	r := NewRouter(Deps{Scanner: sc, Limiter: httpmiddleware.NewTokenBucket(1, 1)})
	if w := do(r, http.MethodGet, "/log?card_no=A1B2&reader=g", ""); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/log?card_no=A1B2&reader=g", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d", w.Code)
	}
	if len(sc.got) != 1 {
		t.Fatalf("scanner called %d times", len(sc.got))
	}
}

func TestHealthz(t *testing.T) {
	r := NewRouter(Deps{
		Scanner: &fakeScanner{},
		Health: []HealthCheck{
			{Name: "store", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
		},
	})
	w := do(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["store"] != "ok" || body.Checks["redis"] != "down" {
		t.Fatalf("body = %+v", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	attendance.NewMetrics(reg)
	r := NewRouter(Deps{Scanner: &fakeScanner{}, Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	if w := do(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	r := NewRouter(Deps{Scanner: &fakeScanner{}, Records: &fakeLister{}, JWTSigningKey: testKey, JWTIssuer: testIssuer})
	if w := do(r, http.MethodGet, "/v1/records", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("records without token = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/admin/reload", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("reload without token = %d", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	lister := &fakeLister{recs: []attendance.Record{
		{ID: "r1", CardID: "A1B2", Role: roster.RoleStudent, Name: "Asha", Class: "10A", Batch: "B1", Subject: "MATH", Date: "2026-10-19"},
	}}
	r := NewRouter(Deps{
		Scanner: &fakeScanner{}, Records: lister, JWTSigningKey: testKey, JWTIssuer: testIssuer,
		Cards: card.Normalizer{TrimLeadingZeros: true},
	})
	tok := operatorToken(t)

	w := do(r, http.MethodGet, "/v1/records?date=2026-10-19&card=%20a1b2&limit=10&offset=5", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	want := attendance.Filter{Date: "2026-10-19", CardID: "A1B2", Limit: 10, Offset: 5}
	if lister.got != want {
		t.Fatalf("filter = %+v, want %+v", lister.got, want)
	}
	var body struct {
		Records []recordView `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 1 || body.Records[0].Cohort != "10A/B1" {
		t.Fatalf("records = %+v", body.Records)
	}

	for _, bad := range []string{"/v1/records?date=19-10-2026", "/v1/records?limit=x", "/v1/records?offset=y"} {
		if w := do(r, http.MethodGet, bad, tok); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", bad, w.Code)
		}
	}

	lister.err = errors.New("boom")
	if w := do(r, http.MethodGet, "/v1/records", tok); w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure = %d", w.Code)
	}
}

func TestReload(t *testing.T) {
	calls := 0
	r := NewRouter(Deps{
		Scanner: &fakeScanner{}, JWTSigningKey: testKey, JWTIssuer: testIssuer,
		Reload: func(context.Context) (ReloadSummary, error) {
			calls++
			if calls > 1 {
				return ReloadSummary{}, errors.New("timetable: slot 3: end before start")
			}
			return ReloadSummary{Students: 2, Staff: 1, Slots: 4}, nil
		},
	})
	tok := operatorToken(t)

	w := do(r, http.MethodPost, "/v1/admin/reload", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var sum ReloadSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil || sum.Slots != 4 {
		t.Fatalf("summary = %+v, %v", sum, err)
	}
	if w := do(r, http.MethodPost, "/v1/admin/reload", tok); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("failed reload = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := NewRouter(Deps{Scanner: &fakeScanner{}, CORSOrigins: []string{"https://ops.example.edu"}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/records", nil)
	req.Header.Set("Origin", "https://ops.example.edu")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.edu" {
		t.Fatalf("allow origin = %q", got)
	}
}

// Full pipeline over a SQLite store: accept, duplicate, then unknown card.
func TestLogScanEndToEnd(t *testing.T) {
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "att.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir, err := roster.Build([]roster.Person{{Name: "Asha", CardID: "A1B2", RollNo: "R-01", Class: "10A", Batch: "B1"}}, nil, card.Normalizer{})
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	ix, err := schedule.NewIndex([]schedule.Slot{
		{Day: time.Monday, Start: 9 * 3600, End: 10 * 3600, Class: "10A", Batch: "B1", Subject: "MATH", StaffID: "T-07"},
	})
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	fixed := clock.NewFixed(time.Date(2026, time.October, 19, 9, 30, 0, 0, time.UTC))
	metrics := attendance.NewMetrics(prometheus.NewRegistry())
	guard := attendance.NewGuard(attendance.PolicyWindow, 10*time.Minute, db, store.NewMemoryLocker())
	svc := attendance.NewService(
		attendance.Snapshot{Directory: dir, Index: ix},
		clock.NewZoneWithSource(fixed, time.UTC),
		attendance.NewRecorder(guard, zap.NewNop(), metrics),
		attendance.Options{StoreTimeout: time.Second},
		zap.NewNop(), metrics,
	)
	r := NewRouter(Deps{Scanner: svc, Records: db, JWTSigningKey: testKey, JWTIssuer: testIssuer})

	steps := []struct {
		target string
		want   string
	}{
		{"/log?card_no=a1b2&reader=gate-1", "SCAN_ACCEPTED"},
		{"/log?card_no=A1B2&reader=gate-2", "DUPLICATE_SCAN"},
		{"/log?card_no=ZZZZ", "UNKNOWN_CARD"},
	}
	for _, s := range steps {
		if w := do(r, http.MethodGet, s.target, ""); w.Body.String() != s.want {
			t.Fatalf("%s = %q, want %q", s.target, w.Body.String(), s.want)
		}
		fixed.Advance(time.Minute)
	}
	if w := do(r, http.MethodGet, "/log", ""); w.Code != http.StatusBadRequest || w.Body.String() != "NO_CARD" {
		t.Fatalf("missing card = %d %q", w.Code, w.Body.String())
	}

	recs, err := db.ListRecords(context.Background(), attendance.Filter{Date: "2026-10-19"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].ReaderID != "gate-1" || recs[0].PersonID != "R-01" {
		t.Fatalf("records = %+v", recs)
	}
}

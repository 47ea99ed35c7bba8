package status

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/internal/engine"
	"github.com/oddsgrid/oddsgrid/internal/heal"
	"github.com/oddsgrid/oddsgrid/internal/source"
	"github.com/oddsgrid/oddsgrid/racing"
)

func testServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := engine.New(engine.Config{Logger: logger}, engine.NewHealthTracker(0.05, 0.15))
	client := source.NewClient(f, nil, nil,
		config.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
		config.PaceConfig{RequestsPerSecond: 1000},
		logger)
	sources := []config.SourceConfig{
		{Name: "alpha", BaseURL: "https://alpha.test", Transport: "auto"},
		{Name: "beta", APIEndpoint: "https://api.beta.test/races", Transport: "http"},
	}
	return NewServer(client, heal.NewReport(), sources, logger)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus_ReportsPerSourceState(t *testing.T) {
	s := testServer()
	for i := 0; i < 5; i++ {
		s.client.Breaker("alpha").RecordFailure()
	}
	h := s.Handler(nil)

	rec := get(t, h, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sources []struct {
			Name    string  `json:"name"`
			Circuit string  `json:"circuit"`
			Health  float64 `json:"health"`
		} `json:"sources"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(body.Sources))
	}
	if body.Sources[0].Name != "alpha" || body.Sources[0].Circuit != "open" {
		t.Errorf("alpha = %+v, want open circuit", body.Sources[0])
	}
	if body.Sources[1].Circuit != "closed" || body.Sources[1].Health != 1.0 {
		t.Errorf("beta = %+v, want closed at full health", body.Sources[1])
	}
}

func TestResult_NotFoundUntilPublished(t *testing.T) {
	s := testServer()
	h := s.Handler(nil)

	if rec := get(t, h, "/api/result"); rec.Code != http.StatusNotFound {
		t.Fatalf("before publish: status = %d, want 404", rec.Code)
	}

	s.SetResult(&racing.AggregatedResult{Date: "2025-01-29", Stale: true})
	rec := get(t, h, "/api/result")
	if rec.Code != http.StatusOK {
		t.Fatalf("after publish: status = %d", rec.Code)
	}
	var res racing.AggregatedResult
	if err := sonic.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Date != "2025-01-29" || !res.Stale {
		t.Errorf("result = %+v", res)
	}
}

func TestSources_ListsConfiguredSources(t *testing.T) {
	rec := get(t, testServer().Handler(nil), "/api/sources")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []struct {
		Name string `json:"name"`
		API  bool   `json:"api"`
	}
	if err := sonic.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 || views[1].Name != "beta" || !views[1].API {
		t.Errorf("views = %+v", views)
	}
}

func TestHealingReport_ServesSnapshot(t *testing.T) {
	s := testServer()
	s.report.Record("alpha", "date_correction", "https://alpha.test/x", true, time.Millisecond)

	rec := get(t, s.Handler(nil), "/api/healing-report")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap map[string]heal.SourceReport
	if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap["alpha"].SuccessesByStrategy["date_correction"] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandler_CORSHeaders(t *testing.T) {
	h := testServer().Handler([]string{"https://ops.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

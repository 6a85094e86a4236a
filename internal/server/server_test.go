package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/monitoring"
	"github.com/signalcore/evidence-engine/internal/scoring"
	"github.com/signalcore/evidence-engine/internal/session"
	"github.com/signalcore/evidence-engine/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeResearcher creates sessions without running the pipeline.
type fakeResearcher struct {
	reg   *session.Registry
	calls int
}

func (f *fakeResearcher) Start(_ context.Context) string {
	f.calls++
	s := f.reg.Create()
	f.reg.Update(s.ID, func(s *model.ResearchSession) { s.Status = model.SessionRunning })
	return s.ID
}

type testEnv struct {
	srv        *Server
	cat        *catalog.Catalog
	reg        *session.Registry
	st         store.Store
	researcher *fakeResearcher
	engine     *scoring.Engine
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	cat := catalog.MustLoad()

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = store.Bootstrap(context.Background(), st, cat.Evidence)
	require.NoError(t, err)

	reg := session.NewRegistry(session.DefaultTTL)
	researcher := &fakeResearcher{reg: reg}
	engine := scoring.At(testNow)

	srv := New(Deps{
		Catalog:    cat,
		Registry:   reg,
		Researcher: researcher,
		Store:      st,
		Scoring:    engine,
		Stats:      monitoring.NewCollector(reg, st, nil),
	}, opts)

	return &testEnv{srv: srv, cat: cat, reg: reg, st: st, researcher: researcher, engine: engine}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, w))
}

func TestVendorsAndRequirements(t *testing.T) {
	env := newTestEnv(t, Options{})

	vendors := decodeBody[[]model.Vendor](t, env.do(t, http.MethodGet, "/vendors", ""))
	assert.Equal(t, env.cat.Vendors, vendors)

	reqs := decodeBody[[]model.Requirement](t, env.do(t, http.MethodGet, "/requirements", ""))
	assert.Equal(t, env.cat.Requirements, reqs)
}

func TestResearchStart(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodPost, "/research/start", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[map[string]string](t, w)
	id := resp["sessionId"]
	require.NotEmpty(t, id)

	sess, ok := env.reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionRunning, sess.Status)
	assert.Equal(t, 1, env.researcher.calls)
}

func TestResearchStart_WrongMethod(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/research/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestResearchResults_Validation(t *testing.T) {
	env := newTestEnv(t, Options{})
	running := env.researcher.Start(context.Background())

	tests := []struct {
		name   string
		target string
		code   int
		errMsg string
	}{
		{"missing id", "/research/results", http.StatusBadRequest, "sessionId is required"},
		{"unknown id", "/research/results?sessionId=nope", http.StatusNotFound, "Session not found"},
		{"not complete", "/research/results?sessionId=" + running, http.StatusConflict, "Session not complete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, w.Code)
			body := decodeBody[map[string]string](t, w)
			assert.Equal(t, tt.errMsg, body["error"])
		})
	}
}

func TestResearchResults_Complete(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.researcher.Start(context.Background())

	ev := env.cat.Evidence[:2]
	done := testNow.Add(time.Minute)
	env.reg.Update(id, func(s *model.ResearchSession) {
		s.Jobs = []model.ResearchJob{{
			ID:           "job-" + ev[0].VendorID,
			VendorID:     ev[0].VendorID,
			Status:       model.JobComplete,
			FetchedPages: []model.FetchedPage{{URL: "https://a"}, {URL: "https://b"}, {URL: "https://c"}},
			Evidence:     ev,
		}}
		s.Status = model.SessionComplete
		s.CompletedAt = &done
	})

	w := env.do(t, http.MethodGet, "/research/results?sessionId="+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Evidence []model.Evidence `json:"evidence"`
		Session  struct {
			StartedAt     time.Time  `json:"startedAt"`
			CompletedAt   *time.Time `json:"completedAt"`
			TotalSources  int        `json:"totalSources"`
			TotalEvidence int        `json:"totalEvidence"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Len(t, resp.Evidence, 2)
	assert.Equal(t, ev[0].ID, resp.Evidence[0].ID)
	assert.Equal(t, 3, resp.Session.TotalSources)
	assert.Equal(t, 2, resp.Session.TotalEvidence)
	require.NotNil(t, resp.Session.CompletedAt)
	assert.True(t, done.Equal(*resp.Session.CompletedAt))
}

func TestResearchResults_EmptyEvidenceIsArray(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.researcher.Start(context.Background())
	env.reg.Update(id, func(s *model.ResearchSession) { s.Status = model.SessionComplete })

	w := env.do(t, http.MethodGet, "/research/results?sessionId="+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"evidence":[]`)
}

func TestScore_Corpus(t *testing.T) {
	env := newTestEnv(t, Options{})
	w := env.do(t, http.MethodGet, "/score", "")
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[[]model.VendorScore](t, w)
	want := env.engine.VendorScores(env.cat.Vendors, env.cat.Requirements, env.cat.Evidence, nil)

	require.Len(t, got, len(env.cat.Vendors))
	for i := range want {
		assert.Equal(t, want[i].Vendor.ID, got[i].Vendor.ID)
		assert.InDelta(t, want[i].TotalScore, got[i].TotalScore, 1e-9)
		assert.Len(t, got[i].Scores, len(env.cat.Requirements))
	}
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].TotalScore, got[i].TotalScore)
	}
}

func TestRescore(t *testing.T) {
	env := newTestEnv(t, Options{})
	weights := map[string]float64{"self-hosting": 5, "pricing": 0}

	w := env.do(t, http.MethodPost, "/score", `{"weights":{"self-hosting":5,"pricing":0}}`)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeBody[[]model.VendorScore](t, w)
	base := env.engine.VendorScores(env.cat.Vendors, env.cat.Requirements, env.cat.Evidence, nil)
	want := env.engine.Recalculate(base, weights)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Vendor.ID, got[i].Vendor.ID)
		assert.InDelta(t, want[i].TotalScore, got[i].TotalScore, 1e-9)
	}
}

func TestRescore_BadRequests(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"malformed json", `{"weights":`, "invalid request body"},
		{"missing weights", `{}`, "weights is required"},
		{"negative weight", `{"weights":{"pricing":-1}}`, "must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/score", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody[map[string]string](t, w)
			assert.Contains(t, body["error"], tt.errMsg)
		})
	}
}

func TestEvidence_Filters(t *testing.T) {
	env := newTestEnv(t, Options{})

	all := decodeBody[[]model.Evidence](t, env.do(t, http.MethodGet, "/evidence", ""))
	assert.Len(t, all, len(env.cat.Evidence))

	byVendor := decodeBody[[]model.Evidence](t, env.do(t, http.MethodGet, "/evidence?vendorId=langfuse", ""))
	require.NotEmpty(t, byVendor)
	for _, e := range byVendor {
		assert.Equal(t, "langfuse", e.VendorID)
	}

	both := decodeBody[[]model.Evidence](t, env.do(t, http.MethodGet,
		"/evidence?vendorId=langfuse&requirementId=self-hosting", ""))
	require.NotEmpty(t, both)
	for _, e := range both {
		assert.Equal(t, "langfuse", e.VendorID)
		assert.Equal(t, "self-hosting", e.RequirementID)
	}

	none := env.do(t, http.MethodGet, "/evidence?vendorId=unknown", "")
	assert.Equal(t, "[]\n", none.Body.String())
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.researcher.Start(context.Background())

	w := env.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	snap := decodeBody[monitoring.MetricsSnapshot](t, w)
	assert.Equal(t, 1, snap.SessionsTotal)
	assert.Equal(t, 1, snap.SessionsRunning)
	assert.Equal(t, len(env.cat.Evidence), snap.CorpusEvidence)
}

func TestStats_OmittedWithoutCollector(t *testing.T) {
	env := newTestEnv(t, Options{})
	srv := New(Deps{Catalog: env.cat, Registry: env.reg, Researcher: env.researcher, Store: env.st}, Options{})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/score", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_ShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- env.srv.ListenAndServe(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

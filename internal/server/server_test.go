package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotci/internal/core"
	"depotci/internal/errs"
	"depotci/internal/ledger"
)

type fakeEngine struct {
	mu       sync.Mutex
	running  int
	maxSeen  int
	ran      []string
	failWith map[string]error
	release  chan struct{}
}

func (e *fakeEngine) Build(_ context.Context, def *core.Definition) (*core.Pipeline, error) {
	p := &core.Pipeline{ID: def.Actions[0].Name}
	for _, a := range def.Actions {
		if a.Kind == "deploy" {
			return nil, errs.Configf("invalid or unknown action type %q for action %q", a.Kind, a.Name)
		}
		p.Actions = append(p.Actions, &core.Action{Name: a.Name, Kind: a.Kind})
	}
	return p, nil
}

func (e *fakeEngine) Run(_ context.Context, p *core.Pipeline) error {
	e.mu.Lock()
	e.running++
	if e.running > e.maxSeen {
		e.maxSeen = e.running
	}
	e.mu.Unlock()

	if e.release != nil {
		<-e.release
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running--
	e.ran = append(e.ran, p.ID)
	return e.failWith[p.ID]
}

func newTestServer(t *testing.T, engine *fakeEngine, l *ledger.Ledger, queue int) (*Server, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "depotci_test_total", Help: "test"}))
	s := New(engine, l, reg, logrus.NewEntry(logger), queue)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func submit(t *testing.T, ts *httptest.Server, contentType, doc string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/pipelines", contentType, strings.NewReader(doc))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func status(t *testing.T, ts *httptest.Server, id string) string {
	t.Helper()
	resp, err := http.Get(ts.URL + "/pipelines/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	var run Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	return run.Status
}

func doc(name string) string {
	return "actions:\n  - name: " + name + "\n    command: {commands: [make]}\n"
}

func TestSubmitAndRun(t *testing.T) {
	engine := &fakeEngine{}
	s, ts := newTestServer(t, engine, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Work(ctx)

	resp, body := submit(t, ts, "application/x-yaml", doc("build"))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "build", body["id"])
	assert.Equal(t, float64(1), body["actions"])
	assert.Eventually(t, func() bool { return status(t, ts, "build") == StatusSucceeded }, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitTOML(t *testing.T) {
	_, ts := newTestServer(t, &fakeEngine{}, nil, 0)

	resp, body := submit(t, ts, "application/toml", "[[actions]]\nname = \"nightly\"\n[actions.command]\ncommands = [\"make\"]\n")

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "nightly", body["id"])
}

func TestFailedRunReportsError(t *testing.T) {
	engine := &fakeEngine{failWith: map[string]error{"bad": errs.New(errs.CodeCommandExecution, "exit 1")}}
	s, ts := newTestServer(t, engine, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Work(ctx)

	submit(t, ts, "application/x-yaml", doc("bad"))

	assert.Eventually(t, func() bool { return status(t, ts, "bad") == StatusFailed }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, s.snapshot("bad").Error, "exit 1")
}

func TestSubmitRejectsInvalidDocuments(t *testing.T) {
	_, ts := newTestServer(t, &fakeEngine{}, nil, 0)

	resp, body := submit(t, ts, "application/x-yaml", "actions: [")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, body = submit(t, ts, "application/x-yaml", "actions:\n  - name: x\n    deploy: {}\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "unknown action type")
}

func TestRunsOneAtATime(t *testing.T) {
	engine := &fakeEngine{release: make(chan struct{})}
	s, ts := newTestServer(t, engine, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Work(ctx)

	for _, name := range []string{"a", "b", "c"} {
		resp, _ := submit(t, ts, "application/x-yaml", doc(name))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	assert.Eventually(t, func() bool { return status(t, ts, "a") == StatusRunning }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusPending, status(t, ts, "b"))

	for i := 0; i < 3; i++ {
		engine.release <- struct{}{}
	}
	assert.Eventually(t, func() bool { return status(t, ts, "c") == StatusSucceeded }, 2*time.Second, 10*time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, 1, engine.maxSeen)
	assert.Equal(t, []string{"a", "b", "c"}, engine.ran)
}

func TestQueueFull(t *testing.T) {
	_, ts := newTestServer(t, &fakeEngine{}, nil, 1)

	resp, _ := submit(t, ts, "application/x-yaml", doc("first"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = submit(t, ts, "application/x-yaml", doc("second"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	r, err := http.Get(ts.URL + "/pipelines/second")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestListRuns(t *testing.T) {
	_, ts := newTestServer(t, &fakeEngine{}, nil, 0)
	submit(t, ts, "application/x-yaml", doc("one"))
	submit(t, ts, "application/x-yaml", doc("two"))

	resp, err := http.Get(ts.URL + "/pipelines")
	require.NoError(t, err)
	defer resp.Body.Close()
	var runs []Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))

	require.Len(t, runs, 2)
	assert.Equal(t, "one", runs[0].ID)
	assert.Equal(t, StatusPending, runs[1].Status)
}

func TestLedgerVerify(t *testing.T) {
	_, disabled := newTestServer(t, &fakeEngine{}, nil, 0)
	resp, err := http.Get(disabled.URL + "/ledger/verify")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	l, err := ledger.Open(filepath.Join(t.TempDir(), ledger.FileName))
	require.NoError(t, err)
	require.NoError(t, l.Append(ledger.NewBlock("r", "build", "command", ledger.StatusSucceeded, nil, nil)))
	_, ts := newTestServer(t, &fakeEngine{}, l, 0)

	resp, err = http.Get(ts.URL + "/ledger/verify")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["blocks"])
	assert.Equal(t, l.LastHash(), body["head"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeEngine{}, nil, 0)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/monitor"
	"github.com/aaronlmathis/pingplot/internal/poller"
	"github.com/aaronlmathis/pingplot/internal/probe"
	"github.com/aaronlmathis/pingplot/internal/sink"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
	"github.com/aaronlmathis/pingplot/internal/ws"
)

type fakeHistory struct {
	records  []sink.Record
	err      error
	endpoint string
	limit    int
}

func (f *fakeHistory) History(_ context.Context, endpoint string, limit int) ([]sink.Record, error) {
	f.endpoint = endpoint
	f.limit = limit
	return f.records, f.err
}

type testServer struct {
	server  *Server
	monitor *monitor.Monitor
	http    *httptest.Server
}

func newTestServer(t *testing.T, history HistorySource, options Options) *testServer {
	t.Helper()
	return newTestServerWithEndpoints(t, []string{"a", "b"}, history, options)
}

func newTestServerWithEndpoints(t *testing.T, names []string, history HistorySource, options Options) *testServer {
	t.Helper()

	prober := probe.ProberFunc(func(ctx context.Context, endpoint string) timeseries.Outcome {
		if endpoint == "b" {
			return timeseries.Failure()
		}
		return timeseries.Success(15 * time.Millisecond)
	})

	endpoints := make([]poller.Endpoint, len(names))
	for i, name := range names {
		endpoints[i] = poller.Endpoint{Name: name, Active: true}
	}

	mon, err := monitor.New(zap.NewNop(), prober, monitor.Config{
		Endpoints:    endpoints,
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
		Store:        timeseries.Config{MaxPoints: 5, MaxSeries: 4},
	}, nil)
	require.NoError(t, err)

	health := timeseries.NewHealthMetrics()
	health.SetLimits(4, 5, 4)
	hub := ws.NewHub(zap.NewNop(), health, 4)

	if options.ControlPerMinute == 0 {
		options.ControlPerMinute = 600
		options.ControlBurst = 100
	}
	srv := NewServer(zap.NewNop(), mon, hub, history, options)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Stop()
		cancel()
		mon.Close()
	})

	return &testServer{server: srv, monitor: mon, http: httpSrv}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	resp := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = ts.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]string
	decode(t, resp, &info)
	assert.Equal(t, "pingplot", info["name"])

	resp = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshotBeforeStart(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	resp := ts.do(t, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	var body struct {
		Timestamps []int64 `json:"timestamps"`
		Series     []struct {
			Endpoint string `json:"endpoint"`
		} `json:"series"`
	}
	decode(t, resp, &body)
	assert.Empty(t, body.Timestamps)
	require.Len(t, body.Series, 2)
	assert.Equal(t, "a", body.Series[0].Endpoint)
	assert.Equal(t, "b", body.Series[1].Endpoint)
}

func TestSnapshotETag(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	first := ts.do(t, http.MethodGet, "/api/v1/snapshot", "")
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/api/v1/snapshot", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	resp := ts.do(t, http.MethodPost, "/api/v1/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status monitor.Status
	decode(t, resp, &status)
	assert.Equal(t, "running", status.State)

	// The first round runs immediately
	require.Eventually(t, func() bool {
		snap := ts.monitor.Snapshot()
		return len(snap.Timestamps) > 0 && snap.Series[0].Samples == 1 && snap.Series[1].Samples == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp = ts.do(t, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Series []struct {
			Endpoint string `json:"endpoint"`
			Latest   struct {
				Kind string   `json:"kind"`
				MS   *float64 `json:"ms"`
			} `json:"latest"`
		} `json:"series"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Series, 2)
	assert.Equal(t, "a", body.Series[0].Endpoint)
	assert.Equal(t, "success", body.Series[0].Latest.Kind)
	require.NotNil(t, body.Series[0].Latest.MS)
	assert.InDelta(t, 15.0, *body.Series[0].Latest.MS, 0.001)
	assert.Equal(t, "b", body.Series[1].Endpoint)
	assert.Equal(t, "failure", body.Series[1].Latest.Kind)

	// Polling outlives the request that started it
	assert.Equal(t, "running", ts.monitor.Status().State)

	resp = ts.do(t, http.MethodPost, "/api/v1/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &status)
	assert.Equal(t, "idle", status.State)
}

func TestSetActive(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	t.Run("unknown endpoint", func(t *testing.T) {
		resp := ts.do(t, http.MethodPut, "/api/v1/endpoints/nope", `{"active": false}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var body ErrorResponse
		decode(t, resp, &body)
		assert.Contains(t, body.Error, "nope")
	})

	t.Run("malformed body", func(t *testing.T) {
		for _, body := range []string{"", "{}", `{"active": "yes"}`, `{"enabled": true}`} {
			resp := ts.do(t, http.MethodPut, "/api/v1/endpoints/a", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("deactivate removes from snapshot", func(t *testing.T) {
		resp := ts.do(t, http.MethodPut, "/api/v1/endpoints/b", `{"active": false}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var endpoints []monitor.EndpointStatus
		decode(t, resp, &endpoints)
		require.Len(t, endpoints, 2)
		assert.True(t, endpoints[0].Active)
		assert.False(t, endpoints[1].Active)

		snap := ts.monitor.Snapshot()
		require.Len(t, snap.Series, 1)
		assert.Equal(t, "a", snap.Series[0].Endpoint)
	})

	t.Run("start with nothing active conflicts", func(t *testing.T) {
		resp := ts.do(t, http.MethodPut, "/api/v1/endpoints/a", `{"active": false}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = ts.do(t, http.MethodPost, "/api/v1/start", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestSetActiveURLName(t *testing.T) {
	const name = "https://www.google.com"
	ts := newTestServerWithEndpoints(t, []string{name, "a"}, nil, Options{})

	paths := map[string]string{
		"raw":          name,
		"path escaped": url.PathEscape(name),
		"query escape": url.QueryEscape(name),
	}
	for form, p := range paths {
		t.Run(form, func(t *testing.T) {
			resp := ts.do(t, http.MethodPut, "/api/v1/endpoints/"+p, `{"active": false}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var endpoints []monitor.EndpointStatus
			decode(t, resp, &endpoints)
			require.Len(t, endpoints, 2)
			assert.Equal(t, name, endpoints[0].Name)
			assert.False(t, endpoints[0].Active)
			assert.True(t, endpoints[1].Active)

			resp = ts.do(t, http.MethodPut, "/api/v1/endpoints/"+p, `{"active": true}`)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.True(t, ts.monitor.Endpoints()[0].Active)
		})
	}
}

func TestSetInterval(t *testing.T) {
	ts := newTestServer(t, nil, Options{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"zero", `{"interval": "0s"}`, http.StatusBadRequest},
		{"negative", `{"interval": "-1s"}`, http.StatusBadRequest},
		{"nanosecond", `{"interval": "1ns"}`, http.StatusBadRequest},
		{"below minimum", `{"interval": "500ms"}`, http.StatusBadRequest},
		{"minimum", `{"interval": "1s"}`, http.StatusOK},
		{"above maximum", `{"interval": "25h"}`, http.StatusBadRequest},
		{"unparseable", `{"interval": "soon"}`, http.StatusBadRequest},
		{"not json", `interval=5s`, http.StatusBadRequest},
		{"valid", `{"interval": "5s"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPut, "/api/v1/interval", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, 5*time.Second, ts.monitor.Interval())
}

func TestHistory(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, nil, Options{})
		resp := ts.do(t, http.MethodGet, "/api/v1/history/a", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("returns points", func(t *testing.T) {
		at := time.UnixMilli(1700000000000)
		history := &fakeHistory{records: []sink.Record{
			{Timestamp: at, Endpoint: "a", Latency: 20 * time.Millisecond},
			{Timestamp: at.Add(time.Minute), Endpoint: "a", Failed: true},
		}}
		ts := newTestServer(t, history, Options{})

		resp := ts.do(t, http.MethodGet, "/api/v1/history/a?limit=2", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2, history.limit)

		var body HistoryResponse
		decode(t, resp, &body)
		assert.Equal(t, "a", body.Endpoint)
		require.Len(t, body.Points, 2)
		assert.Equal(t, at.UnixMilli(), body.Points[0].T)
		require.NotNil(t, body.Points[0].LatencyMS)
		assert.InDelta(t, 20.0, *body.Points[0].LatencyMS, 0.001)
		assert.True(t, body.Points[1].Failed)
		assert.Nil(t, body.Points[1].LatencyMS)
	})

	t.Run("url endpoint name", func(t *testing.T) {
		history := &fakeHistory{}
		ts := newTestServer(t, history, Options{})

		resp := ts.do(t, http.MethodGet, "/api/v1/history/"+url.PathEscape("https://www.bbc.co.uk")+"?limit=5", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://www.bbc.co.uk", history.endpoint)
		assert.Equal(t, 5, history.limit)

		var body HistoryResponse
		decode(t, resp, &body)
		assert.Equal(t, "https://www.bbc.co.uk", body.Endpoint)
	})

	t.Run("default and invalid limits", func(t *testing.T) {
		history := &fakeHistory{}
		ts := newTestServer(t, history, Options{})

		resp := ts.do(t, http.MethodGet, "/api/v1/history/a", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, defaultHistoryLimit, history.limit)

		for _, q := range []string{"0", "-3", "abc", "1000000"} {
			resp := ts.do(t, http.MethodGet, "/api/v1/history/a?limit="+q, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})

	t.Run("source error is hidden", func(t *testing.T) {
		ts := newTestServer(t, &fakeHistory{err: errors.New("disk on fire")}, Options{})

		resp := ts.do(t, http.MethodGet, "/api/v1/history/a", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var body ErrorResponse
		decode(t, resp, &body)
		assert.Equal(t, "internal error", body.Error)
	})
}

func TestControlRateLimit(t *testing.T) {
	ts := newTestServer(t, nil, Options{ControlPerMinute: 1, ControlBurst: 1})

	resp := ts.do(t, http.MethodPost, "/api/v1/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/v1/stop", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	// Reads are not limited
	resp = ts.do(t, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, nil, Options{StreamInterval: 20 * time.Millisecond})

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string `json:"type"`
			Data struct {
				Series []json.RawMessage `json:"series"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "snapshot", msg.Type)
		assert.Len(t, msg.Data.Series, 2)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"har-lifecycle/internal/ml"
)

type fakeService struct {
	mu         sync.Mutex
	width      int
	version    string
	predictErr error
	reloadErr  error
	reloads    int
}

func (f *fakeService) Predict(features []float64) (ml.PredictionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(features) != f.width {
		return ml.PredictionRecord{}, fmt.Errorf("%w: expected %d features, got %d", ml.ErrValidation, f.width, len(features))
	}
	if f.predictErr != nil {
		return ml.PredictionRecord{}, f.predictErr
	}
	label := "LAYING"
	if features[0] > 0 {
		label = "WALKING"
	}
	return ml.PredictionRecord{Features: features, VersionID: f.version, Label: label}, nil
}

func (f *fakeService) Info() ml.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ml.Info{
		ModelFile:    "model_har_" + f.version + ".json",
		LabelEncoder: "labels_har_" + f.version + ".json",
		InputShape:   []int{f.width},
		OutputLabels: []string{"LAYING", "WALKING"},
		Version:      f.version,
	}
}

func (f *fakeService) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.reloads++
	f.version = fmt.Sprintf("v%d", f.reloads+1)
	return nil
}

type observed struct {
	route string
	code  int
}

type mockMetrics struct {
	mu       sync.Mutex
	requests []observed
	opened   int
	closed   int
}

func (m *mockMetrics) HTTPRequestObserve(route string, code int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, observed{route, code})
}

func (m *mockMetrics) StreamOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *mockMetrics) StreamClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockMetrics) streams() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

func newTestServer(t *testing.T) (*Server, *fakeService, *mockMetrics) {
	t.Helper()
	svc := &fakeService{width: 3, version: "v1"}
	metrics := &mockMetrics{}
	cfg := DefaultConfig()
	cfg.Gatherer = prometheus.NewRegistry()
	return NewServer(svc, metrics, cfg), svc, metrics
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestPredict(t *testing.T) {
	s, _, metrics := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, PathPredict, `{"features":[1,0,0]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var resp PredictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "WALKING", resp.Activity)
	assert.Equal(t, "v1", resp.Version)
	assert.Equal(t, rec.Header().Get(HeaderRequestID), resp.RequestID)

	require.Len(t, metrics.requests, 1)
	assert.Equal(t, observed{PathPredict, http.StatusOK}, metrics.requests[0])
}

func TestPredict_EchoesRequestID(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, PathPredict, strings.NewReader(`{"features":[0,0,0]}`))
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
	var resp PredictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "LAYING", resp.Activity)
	assert.Equal(t, "abc-123", resp.RequestID)
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		svcErr   error
		wantCode int
		wantKind string
	}{
		{"malformed json", `{"features":[1,2`, nil, http.StatusBadRequest, ""},
		{"wrong type", `{"features":"abc"}`, nil, http.StatusBadRequest, ""},
		{"too short", `{"features":[1,2]}`, nil, http.StatusUnprocessableEntity, "validation error"},
		{"missing features", `{}`, nil, http.StatusUnprocessableEntity, "validation error"},
		{"no model", `{"features":[1,2,3]}`, fmt.Errorf("%w: models dir empty", ml.ErrNotFound), http.StatusServiceUnavailable, "artifact not found"},
		{"model failure", `{"features":[1,2,3]}`, fmt.Errorf("%w: v1: boom", ml.ErrPrediction), http.StatusInternalServerError, "prediction error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc, _ := newTestServer(t)
			svc.predictErr = tt.svcErr

			rec := do(t, s.Handler(), http.MethodPost, PathPredict, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeError(t, rec)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, PathPredict, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestInfoAndHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, PathInfo, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info ml.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "model_har_v1.json", info.ModelFile)
	assert.Equal(t, "labels_har_v1.json", info.LabelEncoder)
	assert.Equal(t, []int{3}, info.InputShape)
	assert.Equal(t, []string{"LAYING", "WALKING"}, info.OutputLabels)

	rec = do(t, s.Handler(), http.MethodGet, PathHealth, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "v1", health.Version)
}

func TestReload(t *testing.T) {
	s, svc, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodPost, PathReload, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info ml.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "v2", info.Version)

	svc.reloadErr = fmt.Errorf("%w: labels_har_x.json missing", ml.ErrCorruptArtifact)
	rec = do(t, s.Handler(), http.MethodPost, PathReload, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "corrupt artifact", decodeError(t, rec).Kind)
}

func TestReload_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReload = false
	cfg.Gatherer = prometheus.NewRegistry()
	s := NewServer(&fakeService{width: 3, version: "v1"}, nil, cfg)

	rec := do(t, s.Handler(), http.MethodPost, PathReload, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "har_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	cfg := DefaultConfig()
	cfg.Gatherer = reg
	s := NewServer(&fakeService{width: 3, version: "v1"}, nil, cfg)

	rec := do(t, s.Handler(), http.MethodGet, PathMetrics, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "har_test_total 1")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", ml.ErrValidation), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", ml.ErrSchemaMismatch), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", ml.ErrNotFound), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: x", ml.ErrCorruptArtifact), http.StatusInternalServerError},
		{fmt.Errorf("%w: x", ml.ErrPrediction), http.StatusInternalServerError},
		{errors.New("foreign"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestStream(t *testing.T) {
	s, _, metrics := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + PathStream
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	send := func(msg string) map[string]interface{} {
		t.Helper()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}

	out := send(`{"features":[1,1,1],"request_id":"r1"}`)
	assert.Equal(t, "WALKING", out["activity"])
	assert.Equal(t, "r1", out["request_id"])

	out = send(`not json`)
	assert.Contains(t, out["error"], "invalid request")

	out = send(`{"features":[1]}`)
	assert.Equal(t, "validation error", out["kind"])

	// the connection survives errors
	out = send(`{"features":[-1,0,0]}`)
	assert.Equal(t, "LAYING", out["activity"])

	opened, _ := metrics.streams()
	assert.Equal(t, 1, opened)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		_, closed := metrics.streams()
		return closed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Gatherer = prometheus.NewRegistry()
	s := NewServer(&fakeService{width: 3, version: "v1"}, nil, cfg)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRequestBodyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 16
	cfg.Gatherer = prometheus.NewRegistry()
	s := NewServer(&fakeService{width: 3, version: "v1"}, nil, cfg)

	body := bytes.Repeat([]byte(" "), 64)
	body = append(body, []byte(`{"features":[1,2,3]}`)...)
	rec := do(t, s.Handler(), http.MethodPost, PathPredict, string(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

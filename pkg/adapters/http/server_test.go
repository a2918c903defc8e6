package http_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tickhttp "github.com/aretw0/tickvm/pkg/adapters/http"
	"github.com/aretw0/tickvm/pkg/adapters/memory"
	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/dsl"
	"github.com/aretw0/tickvm/pkg/observability"
	"github.com/aretw0/tickvm/pkg/sandbox"
	"github.com/aretw0/tickvm/pkg/session"
)

func walker() []byte {
	b := dsl.New()
	x, y := b.Global("x"), b.Global("y")
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.PollMoves(x, y)
			f.Draw("walker").At(x.Float(), y.Float(), dsl.Float(0)).Commit()
			f.Present()
		})
	})
	return b.MustBuild()
}

type fixture struct {
	t      *testing.T
	srv    *tickhttp.Server
	http   *httptest.Server
	reg    *prometheus.Registry
	client *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	mgr := session.NewManager(memory.NewStore(), session.WithRuntimeOptions(sandbox.WithLifecycleHooks(metrics.Hooks())))
	srv := tickhttp.NewServer(mgr, tickhttp.WithGatherer(reg), tickhttp.WithVersion("1.2.3"))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &fixture{t: t, srv: srv, http: ts, reg: reg, client: ts.Client()}
}

func (f *fixture) do(method, path string, body any) (*http.Response, []byte) {
	f.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(f.t, err)
	resp, err := f.client.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp, out
}

func (f *fixture) create(id string) session.Info {
	f.t.Helper()
	resp, body := f.do(http.MethodPost, "/sessions", map[string]string{
		"id":      id,
		"program": base64.StdEncoding.EncodeToString(walker()),
	})
	require.Equal(f.t, http.StatusCreated, resp.StatusCode, string(body))
	var info session.Info
	require.NoError(f.t, json.Unmarshal(body, &info))
	return info
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	_, body = f.do(http.MethodGet, "/info", nil)
	assert.JSONEq(t, `{"app":"tickvm-http","version":"1.2.3"}`, string(body))
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	info := f.create("game-1")
	assert.Equal(t, "game-1", info.ID)

	resp, body := f.do(http.MethodPost, "/sessions/game-1/tick", map[string]any{
		"delta_ms": 16,
		"events":   []map[string]any{{"player": 1, "kind": "move", "x": 4, "y": 2}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res struct {
		Tick  uint64            `json:"tick"`
		Calls []json.RawMessage `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, uint64(0), res.Tick)
	require.Len(t, res.Calls, 1)
	call, err := domain.UnmarshalCall(res.Calls[0])
	require.NoError(t, err)
	assert.Equal(t, "walker", call.(domain.DrawCall).Asset)
	assert.Equal(t, [3]float32{4, 2, 0}, call.(domain.DrawCall).Transform.Position)

	resp, body = f.do(http.MethodGet, "/sessions/game-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got session.Info
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, uint64(1), got.Tick)

	resp, body = f.do(http.MethodGet, "/sessions/game-1/snapshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	h, err := sandbox.ReadHeader(body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Tick)

	resp, body = f.do(http.MethodPost, "/sessions/game-1/fork", map[string]string{"id": "game-2"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, "/sessions/game-2", resp.Header.Get("Location"))

	_, body = f.do(http.MethodGet, "/sessions", nil)
	assert.JSONEq(t, `{"sessions":["game-1","game-2"]}`, string(body))

	resp, _ = f.do(http.MethodDelete, "/sessions/game-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(http.MethodGet, "/sessions/game-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(http.MethodDelete, "/sessions/game-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTickWithNonFinitePose(t *testing.T) {
	b := dsl.New()
	b.Entry(func(f *dsl.Func) {
		f.WaitStartup()
		f.Loop(func(f *dsl.Func) {
			f.Draw("glitch").At(dsl.Float(math.NaN()), dsl.Float(math.Inf(1)), dsl.Float(math.Inf(-1))).Commit()
			f.Present()
		})
	})
	f := newFixture(t)
	resp, body := f.do(http.MethodPost, "/sessions", map[string]string{
		"id":      "nan",
		"program": base64.StdEncoding.EncodeToString(b.MustBuild()),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = f.do(http.MethodPost, "/sessions/nan/tick", map[string]any{"delta_ms": 16})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var res struct {
		Calls []json.RawMessage `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Calls, 1)
	call, err := domain.UnmarshalCall(res.Calls[0])
	require.NoError(t, err)
	pos := call.(domain.DrawCall).Transform.Position
	assert.True(t, math.IsNaN(float64(pos[0])))
	assert.True(t, math.IsInf(float64(pos[1]), 1))
	assert.True(t, math.IsInf(float64(pos[2]), -1))
}

func TestCreateGeneratesID(t *testing.T) {
	f := newFixture(t)
	info := f.create("")
	assert.Len(t, info.ID, 16)
}

func TestTickUsesDefaultDeltaForEmptyBody(t *testing.T) {
	f := newFixture(t)
	f.create("s")
	resp, body := f.do(http.MethodPost, "/sessions/s/tick", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	f.create("taken")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown tick field", http.MethodPost, "/sessions/taken/tick", map[string]any{"speed": 2}, http.StatusBadRequest},
		{"unknown event kind", http.MethodPost, "/sessions/taken/tick", map[string]any{"events": []map[string]any{{"kind": "jump"}}}, http.StatusBadRequest},
		{"negative delta", http.MethodPost, "/sessions/taken/tick", map[string]any{"delta_ms": -1}, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/sessions/taken/tick", "{", http.StatusBadRequest},
		{"tick missing session", http.MethodPost, "/sessions/nope/tick", map[string]any{}, http.StatusNotFound},
		{"program not base64", http.MethodPost, "/sessions", map[string]string{"program": "!!!"}, http.StatusBadRequest},
		{"program missing", http.MethodPost, "/sessions", map[string]string{"id": "x"}, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/sessions", map[string]string{"id": "../etc", "program": "AA=="}, http.StatusBadRequest},
		{"program invalid", http.MethodPost, "/sessions", map[string]string{"program": base64.StdEncoding.EncodeToString([]byte("junk"))}, http.StatusUnprocessableEntity},
		{"duplicate id", http.MethodPost, "/sessions", map[string]string{"id": "taken", "program": base64.StdEncoding.EncodeToString(walker())}, http.StatusConflict},
		{"fork onto existing", http.MethodPost, "/sessions/taken/fork", map[string]string{"id": "taken"}, http.StatusConflict},
		{"bad player id", http.MethodDelete, "/sessions/taken/players/abc", nil, http.StatusBadRequest},
		{"unknown player", http.MethodDelete, "/sessions/taken/players/7", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
			if resp.StatusCode >= 400 {
				assert.Contains(t, string(body), `"error"`)
			}
		})
	}
}

func TestPlayers(t *testing.T) {
	f := newFixture(t)
	f.create("p")

	_, body := f.do(http.MethodPost, "/sessions/p/players", nil)
	assert.JSONEq(t, `{"player":0}`, string(body))
	_, body = f.do(http.MethodPost, "/sessions/p/players", nil)
	assert.JSONEq(t, `{"player":1}`, string(body))

	resp, _ := f.do(http.MethodDelete, "/sessions/p/players/0", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = f.do(http.MethodPost, "/sessions/p/players", nil)
	assert.JSONEq(t, `{"player":0}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.create("m")
	f.do(http.MethodPost, "/sessions/m/tick", nil)

	resp, body := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tickvm_ticks_total{result="ok"} 1`)
}

func dialStream(t *testing.T, f *fixture, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.srv.Streams.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestStreamReceivesTicks(t *testing.T) {
	f := newFixture(t)
	f.create("live")
	conn := dialStream(t, f, "live")

	for i := range 2 {
		resp, _ := f.do(http.MethodPost, "/sessions/live/tick", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			SessionID string            `json:"session_id"`
			Tick      uint64            `json:"tick"`
			Calls     []json.RawMessage `json:"calls"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "live", msg.SessionID)
		assert.Equal(t, uint64(i), msg.Tick)
		assert.Len(t, msg.Calls, 1)
	}
}

func TestStreamClosedOnDelete(t *testing.T) {
	f := newFixture(t)
	f.create("doomed")
	conn := dialStream(t, f, "doomed")

	resp, _ := f.do(http.MethodDelete, "/sessions/doomed", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamMissingSession(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/sessions/ghost/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/artifacts"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/health"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/preview"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/station"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConsole struct {
	mu         sync.Mutex
	channels   []station.ChannelInfo
	renderers  []*preview.Renderer
	connectErr error
	captureErr error
	captures   []bool
	store      *artifacts.Store
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		channels: []station.ChannelInfo{
			{ID: 1, Name: "Feed 1", Port: 5000, Status: "Disconnected"},
			{ID: 2, Name: "Feed 2", Port: 5001, Status: "Disconnected"},
		},
		renderers: []*preview.Renderer{
			preview.NewRenderer(preview.Options{}),
			preview.NewRenderer(preview.Options{}),
		},
	}
}

func (f *fakeConsole) lookup(id int) (int, error) {
	if id < 1 || id > len(f.channels) {
		return 0, fmt.Errorf("%w: %d", station.ErrUnknownChannel, id)
	}
	return id - 1, nil
}

func (f *fakeConsole) Channels() []station.ChannelInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]station.ChannelInfo(nil), f.channels...)
}

func (f *fakeConsole) Channel(id int) (station.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.lookup(id)
	if err != nil {
		return station.ChannelInfo{}, err
	}
	return f.channels[i], nil
}

func (f *fakeConsole) Connect(id int, portText string) (station.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.lookup(id)
	if err != nil {
		return station.ChannelInfo{}, err
	}
	port, err := config.ParsePort(portText)
	if err != nil {
		return f.channels[i], err
	}
	f.channels[i].Port = port
	if f.connectErr != nil {
		f.channels[i].Status = "Connection failed"
		return f.channels[i], f.connectErr
	}
	f.channels[i].Status = fmt.Sprintf("Connected to RTP stream on port %d", port)
	return f.channels[i], nil
}

func (f *fakeConsole) Disconnect(id int) (station.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.lookup(id)
	if err != nil {
		return station.ChannelInfo{}, err
	}
	f.channels[i].Status = "Disconnected"
	return f.channels[i], nil
}

func (f *fakeConsole) SetEnhancement(id int, enabled bool) (station.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, err := f.lookup(id)
	if err != nil {
		return station.ChannelInfo{}, err
	}
	f.channels[i].Enhancement = enabled
	return f.channels[i], nil
}

func (f *fakeConsole) Capture(ctx context.Context, id int, enhance bool) (*artifacts.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.captures = append(f.captures, enhance)
	return f.store.Save(ctx, id, enhance, testFrame())
}

func (f *fakeConsole) Renderer(id int) (*preview.Renderer, error) {
	i, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return f.renderers[i], nil
}

func (f *fakeConsole) EnhancementBackend() string { return "reference" }

func testFrame() *frame.Frame {
	f := frame.New(16, 8, 3)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 200, 90, 30
	}
	return f
}

func setupTestServer(t *testing.T) (*Server, *fakeConsole) {
	t.Helper()
	store, err := artifacts.Open(artifacts.Options{OutputDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	console := newFakeConsole()
	console.store = store

	srv := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1"}, logger.NewNopLogger())
	srv.SetDependencies(console, store)
	return srv, console
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_StartStop(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.config.Port = 0

	require.NoError(t, srv.Start(context.Background()))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/channels")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, srv.Stop(ctx), "second stop is a no-op")
}

func TestServer_StartDisabled(t *testing.T) {
	srv := NewServer(&config.WebConfig{Enabled: false}, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_StartBindError(t *testing.T) {
	first, _ := setupTestServer(t)
	require.NoError(t, first.Start(context.Background()))
	t.Cleanup(func() { first.Stop(context.Background()) })

	_, portText, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)

	second := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1", Port: port}, nil)
	assert.Error(t, second.Start(context.Background()))
}

func TestHandleListChannels(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	first := body["channels"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Feed 1", first["name"])
}

func TestHandleGetChannel_Errors(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/channels/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_channel_id", decode(t, w)["error"])

	w = do(t, srv, http.MethodGet, "/api/channels/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_channel", decode(t, w)["error"])
}

func TestHandleConnect(t *testing.T) {
	srv, console := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/channels/2/connect", `{"port":"6000"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Connected to RTP stream on port 6000", decode(t, w)["status"])
	assert.Equal(t, 6000, console.Channels()[1].Port)
}

func TestHandleConnect_InvalidPort(t *testing.T) {
	srv, console := setupTestServer(t)

	for _, port := range []string{"", "0", "65536", "abc", "-1"} {
		w := do(t, srv, http.MethodPost, "/api/channels/1/connect", fmt.Sprintf(`{"port":%q}`, port))
		assert.Equal(t, http.StatusBadRequest, w.Code, port)
		assert.Equal(t, "invalid_port", decode(t, w)["error"], port)
	}
	assert.Equal(t, 5000, console.Channels()[0].Port)

	w := do(t, srv, http.MethodPost, "/api/channels/1/connect", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestHandleConnect_PipelineFailure(t *testing.T) {
	srv, console := setupTestServer(t)
	console.connectErr = errors.New("no h264 decoder")

	w := do(t, srv, http.MethodPost, "/api/channels/1/connect", `{"port":"5000"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "connect_failed", body["error"])
	assert.Equal(t, "Connection failed", body["channel"].(map[string]interface{})["status"])
}

func TestHandleDisconnect(t *testing.T) {
	srv, _ := setupTestServer(t)
	do(t, srv, http.MethodPost, "/api/channels/1/connect", `{"port":"5000"}`)

	w := do(t, srv, http.MethodPost, "/api/channels/1/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Disconnected", decode(t, w)["status"])
}

func TestHandleSetEnhancement(t *testing.T) {
	srv, console := setupTestServer(t)

	w := do(t, srv, http.MethodPut, "/api/channels/1/enhancement", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, console.Channels()[0].Enhancement)

	w = do(t, srv, http.MethodPut, "/api/channels/1/enhancement", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, console.Channels()[0].Enhancement)
}

func TestHandleCapture(t *testing.T) {
	srv, console := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/channels/2/capture", `{"enhance":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(2), body["channel"])
	assert.Equal(t, true, body["enhanced"])
	assert.Contains(t, body["path"], "feed2_retinex_")

	w = do(t, srv, http.MethodPost, "/api/channels/1/capture", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["enhanced"])

	assert.Equal(t, []bool{true, false}, console.captures)
}

func TestHandleCapture_NoFrame(t *testing.T) {
	srv, console := setupTestServer(t)
	console.captureErr = fmt.Errorf("%w on channel 1", station.ErrNoFrame)

	w := do(t, srv, http.MethodPost, "/api/channels/1/capture", `{"enhance":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_frame", decode(t, w)["error"])
}

func TestHandleFrame(t *testing.T) {
	srv, console := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/channels/1/frame", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := console.renderers[0].Render(testFrame())
	require.NoError(t, err)

	w = do(t, srv, http.MethodGet, "/api/channels/1/frame", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}), "JPEG SOI marker")
}

func TestHandleMJPEGStream(t *testing.T) {
	srv, console := setupTestServer(t)
	_, err := console.renderers[1].Render(testFrame())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/channels/2/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)
}

func TestHandleArtifacts(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/artifacts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	do(t, srv, http.MethodPost, "/api/channels/1/capture", `{"enhance":false}`)
	w = do(t, srv, http.MethodPost, "/api/channels/2/capture", `{"enhance":false}`)
	id := decode(t, w)["id"].(string)

	w = do(t, srv, http.MethodGet, "/api/artifacts?channel=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(t, srv, http.MethodGet, "/api/artifacts?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/artifacts/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	w = do(t, srv, http.MethodGet, "/api/artifacts/"+id+"/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}))

	w = do(t, srv, http.MethodGet, "/api/artifacts/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_NoDependencies(t *testing.T) {
	srv := NewServer(&config.WebConfig{Enabled: true}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/channels", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/artifacts", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/status", "").Code)
}

type staticChecker health.Status

func (c staticChecker) Name() string { return string(c) }
func (c staticChecker) Check(ctx context.Context) health.Check {
	return health.Check{Name: string(c), Status: health.Status(c)}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	mgr := health.NewManager(nil, nil)
	mgr.RegisterChecker(staticChecker(health.StatusDegraded))
	srv.SetHealthDependencies(mgr, nil)

	w := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])

	mgr.RegisterChecker(staticChecker(health.StatusUnhealthy))
	w = do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
}

func TestHandleStatus(t *testing.T) {
	srv, _ := setupTestServer(t)
	srv.SetVersion("1.2.3")

	w := do(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "reference", body["enhancement_backend"])
	assert.Len(t, body["channels"], 2)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv, http.MethodOptions, "/api/channels/1/connect", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

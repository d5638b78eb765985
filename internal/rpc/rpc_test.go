package rpc

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockServer() *httptest.Server {
	return httptest.NewServer(testHandler())
}

func testHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/switch", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("port") == "11" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"switch.invalid_port","error":"Invalid port number: 11. Must be 1-10."}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"port":    r.URL.Query().Get("port"),
		})
	})
	mux.HandleFunc("/backend/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"process_state":"starting"}`))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func tcpClient(server *httptest.Server) HTTPClient {
	return NewHTTPClient(&HTTPConfig{
		Network: "tcp",
		Address: server.Listener.Addr().String(),
		Timeout: 2 * time.Second,
		BaseURL: "http://localhost",
	})
}

func TestHTTPClientGet(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	client := tcpClient(server)
	defer client.Close()

	resp, err := client.Get("/switch", map[string]interface{}{"port": 3, "serial_port": "/dev/ttyUSB0"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Error)

	var body map[string]interface{}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "3", body["port"])
}

func TestHTTPClientErrorResponse(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	client := tcpClient(server)

	resp, err := client.Get("/switch", map[string]interface{}{"port": 11})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "switch.invalid_port", resp.Code)
	assert.Equal(t, "Invalid port number: 11. Must be 1-10.", resp.Error)

	resp, err = client.Get("/empty", nil)
	require.NoError(t, err)
	assert.Equal(t, "503 Service Unavailable", resp.Error)
}

func TestHTTPClientPost(t *testing.T) {
	server := newMockServer()
	defer server.Close()
	client := tcpClient(server)

	resp, err := client.Post("/backend/start", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "starting")
}

func TestHTTPClientConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	client := NewHTTPClient(&HTTPConfig{Network: "tcp", Address: addr, Timeout: time.Second, BaseURL: "http://localhost"})
	_, err = client.Get("/status", nil)
	assert.Error(t, err)
}

func TestHTTPClientUnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets are not used on windows")
	}
	socket := filepath.Join(t.TempDir(), "kvm-keeper.sock")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	server := &http.Server{Handler: testHandler()}
	go server.Serve(l)
	defer server.Close()

	cfg := &config.AppConfig{
		Server: config.ServerConfig{Address: "0.0.0.0:8080", Socket: socket},
	}
	hc := DefaultHTTPConfig(cfg)
	assert.Equal(t, "unix", hc.Network)

	resp, err := NewHTTPClient(hc).Get("/switch", map[string]interface{}{"port": 2})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDefaultHTTPConfig(t *testing.T) {
	cfg := &config.AppConfig{
		Server:  config.ServerConfig{Address: "0.0.0.0:8080", Socket: filepath.Join(t.TempDir(), "missing.sock")},
		Backend: config.BackendConfig{StartGrace: 3 * time.Second},
		KVM:     config.KVMConfig{SettleDelay: 500 * time.Millisecond},
	}
	hc := DefaultHTTPConfig(cfg)
	assert.Equal(t, "tcp", hc.Network)
	assert.Equal(t, "127.0.0.1:8080", hc.Address)
	assert.Equal(t, 8500*time.Millisecond, hc.Timeout)

	cfg.Server.Address = "192.168.1.5:9000"
	assert.Equal(t, "192.168.1.5:9000", DefaultHTTPConfig(cfg).Address)
}

func TestBuildURL(t *testing.T) {
	u, err := buildURL("http://localhost", "/switch", map[string]interface{}{"port": 10})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/switch?port=10", u)

	u, err = buildURL("http://localhost/api", "/status", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/api/status", u)
}

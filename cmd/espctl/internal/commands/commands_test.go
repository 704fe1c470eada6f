package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeAPI 记录收到的上报，并对查询返回固定数据。
type fakeAPI struct {
	mu       sync.Mutex
	posts    []map[string]interface{}
	keys     []string
	lastPath string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPath = r.URL.RequestURI()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/data":
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.posts = append(f.posts, body)
		f.keys = append(f.keys, r.Header.Get("X-Device-Key"))
		_, _ = w.Write([]byte(`{"status":"success","message":"Data received and stored successfully!"}`))
	case r.URL.Path == "/data/latest":
		_, _ = w.Write([]byte(`{"status":"success","data":[{"id":1,"galon":"a","value":1,"timestamp":"2024-05-01T08:00:00+07:00"}]}`))
	case r.URL.Path == "/galons/missing/latest":
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"error","message":"No data for galon"}`))
	case r.URL.Path == "/data":
		_, _ = w.Write([]byte(`{"status":"success","data":[]}`))
	case r.URL.Path == "/readyz":
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","message":"timezone: session is SYSTEM"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func run(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--base", srv.URL, "--retries", "0"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	api := &fakeAPI{}
	out, err := run(t, api, "send", "--galon", "g1", "--value", "12.5", "--device-key", "k")
	require.NoError(t, err)
	require.Contains(t, out, "stored g1=12.5")
	require.Len(t, api.posts, 1)
	require.Equal(t, "g1", api.posts[0]["galon"])
	require.Equal(t, 12.5, api.posts[0]["value"])
	require.Equal(t, "k", api.keys[0])
}

func TestSendRequiresFlags(t *testing.T) {
	_, err := run(t, &fakeAPI{}, "send", "--galon", "g1")
	require.Error(t, err)
}

func TestLatestCommand(t *testing.T) {
	out, err := run(t, &fakeAPI{}, "latest")
	require.NoError(t, err)
	require.Contains(t, out, `"galon": "a"`)

	_, err = run(t, &fakeAPI{}, "latest", "missing")
	require.Error(t, err)
}

func TestListCommandSendsQuery(t *testing.T) {
	api := &fakeAPI{}
	_, err := run(t, api, "list", "--galon", "g", "--limit", "5", "--asc")
	require.NoError(t, err)
	require.Contains(t, api.lastPath, "galon=g")
	require.Contains(t, api.lastPath, "limit=5")
	require.Contains(t, api.lastPath, "order=asc")
}

func TestReadyCommandFails(t *testing.T) {
	_, err := run(t, &fakeAPI{}, "ready")
	require.Error(t, err)
	require.Contains(t, err.Error(), "timezone")
}

func TestSimulateCommand(t *testing.T) {
	api := &fakeAPI{}
	out, err := run(t, api, "simulate", "--galon", "a,b", "--count", "3", "--interval", "0s", "--min", "10", "--max", "20", "--seed", "7")
	require.NoError(t, err)
	require.Contains(t, out, "sent=6 failed=0")
	require.Len(t, api.posts, 6)
	for _, p := range api.posts {
		v := p["value"].(float64)
		require.GreaterOrEqual(t, v, 10.0)
		require.LessOrEqual(t, v, 20.0)
	}
}

func TestSimulateValidatesRange(t *testing.T) {
	_, err := run(t, &fakeAPI{}, "simulate", "--galon", "a", "--min", "5", "--max", "1")
	require.Error(t, err)
}

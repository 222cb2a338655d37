package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/app"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/buildinfo"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/cli"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

const deploymentsJSON = `[
	{"id": 1, "deployment_ID": "dep-oslo", "site_name": "Oslo", "country": "Norway",
	 "deployment_start": "2024-01-01T00:00:00Z", "deployment_end": null},
	{"id": 2, "deployment_ID": "dep-bergen", "site_name": "Bergen", "country": "Norway",
	 "deployment_start": "2023-01-01T00:00:00Z", "deployment_end": "2023-02-01T00:00:00Z"}
]`

const observationsJSON = `{"count": 1, "next": null, "results": [
	{"id": 5, "obs_dt": "2024-05-01T06:00:00Z",
	 "taxon": {"id": 2, "species_name": "Turdus merula", "species_common_name": "Blackbird"},
	 "source": "human", "needs_review": false, "extra_data": {"auto_detected": false},
	 "data_files": [{"id": 41, "file_name": "a.wav"}]}
]}`

type testBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	manifest []map[string]any
	site     string
	parts    []string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	b := &testBackend{}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  3,
		"username": "kari",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	access, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token/", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": "refresh-token"})
	})
	mux.HandleFunc("GET /api/deployment/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(deploymentsJSON))
	})
	mux.HandleFunc("GET /api/observation/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(observationsJSON))
	})
	mux.HandleFunc("POST /api/datafile/register_audio_files/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		_ = json.Unmarshal([]byte(r.FormValue("audioFiles")), &b.manifest)
		b.site = r.FormValue("site_name")
		for _, fh := range r.MultipartForm.File["files"] {
			b.parts = append(b.parts, fh.Filename)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"created_files": []map[string]any{{"id": 41, "file_name": "a.wav"}, {"id": 42, "file_name": "c.flac"}},
			"errors":        []string{},
		})
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testCLI runs commands against one backend and one in-memory session.
type testCLI struct {
	t       *testing.T
	backend *testBackend
	storage session.Storage
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	return &testCLI{t: t, backend: newTestBackend(t), storage: session.NewMemoryStorage()}
}

func (c *testCLI) settings() *conf.Settings {
	s := &conf.Settings{}
	s.Backend.BaseURL = c.backend.server.URL
	s.Backend.Timeout = 5 * time.Second
	s.Cache.StaleTime = time.Minute
	s.Cache.GCTime = time.Minute
	s.Dashboard.Listen = "127.0.0.1:0"
	s.Quality.PollInterval = 10 * time.Millisecond
	s.Observations.PageSize = 50
	s.Upload.RemotePath = "/srv/audio"
	return s
}

// run executes args with stdin and returns stdout.
func (c *testCLI) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	env := cli.NewEnv(c.settings(), buildinfo.NewContext("1.4.0", "2024-06-01"))
	env.AppOptions = []app.Option{app.WithGlobalLogger(), app.WithStorage(c.storage)}

	root := RootCommand(env)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(c.t.Context())
	return stdout.String(), err
}

func (c *testCLI) login() {
	c.t.Helper()
	_, err := c.run("kari\nsecret\n", "login")
	require.NoError(c.t, err)
}

func TestVersion(t *testing.T) {
	c := newTestCLI(t)
	out, err := c.run("", "version", "--output", "json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.4.0", info["version"])
	assert.Equal(t, "2024-06-01", info["build_date"])
}

func TestLoginStatusLogout(t *testing.T) {
	c := newTestCLI(t)

	_, err := c.run("kari\nwrong\n", "login")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err) || api.StatusCode(err) == http.StatusUnauthorized)

	out, err := c.run("kari\nsecret\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "kari")

	out, err = c.run("", "status", "--output", "json")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, "kari", status["username"])

	out, err = c.run("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	out, err = c.run("", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "logged_out")
}

func TestReadsNeedLogin(t *testing.T) {
	c := newTestCLI(t)
	_, err := c.run("", "deployments", "list")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
}

func TestDeploymentsList(t *testing.T) {
	c := newTestCLI(t)
	c.login()

	out, err := c.run("", "deployments", "list", "--state", "active")
	require.NoError(t, err)
	assert.Contains(t, out, "SITE")
	assert.Contains(t, out, "Oslo")
	assert.NotContains(t, out, "Bergen")

	out, err = c.run("", "deployments", "list", "--output", "json")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Oslo", list[0]["site_name"], "active deployments come first")

	_, err = c.run("", "deployments", "list", "--state", "sleeping")
	require.Error(t, err)

	_, err = c.run("", "deployments", "list", "--output", "yaml")
	require.Error(t, err)
}

func TestUploadMixesFlagsAndPrompts(t *testing.T) {
	c := newTestCLI(t)
	c.login()

	dir := t.TempDir()
	for _, name := range []string{"a.wav", "b.wav", "c.flac"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("audio-"+name), 0o600))
	}

	out, err := c.run("#0\nyesterday\n2024-05-02 09:00\n",
		"upload", "Oslo",
		filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav"), filepath.Join(dir, "c.flac"),
		"--recorded", "a.wav=2024-05-01 08:30",
		"--existing", "b.wav=17",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded 2 of 3 files to Oslo")

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	assert.Equal(t, "Oslo", c.backend.site)
	assert.Equal(t, []string{"a.wav", "b.wav", "c.flac"}, c.backend.parts)
	require.Len(t, c.backend.manifest, 3)

	const layout = "2006-01-02T15:04:05.000Z"
	assert.Equal(t, time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local).UTC().Format(layout), c.backend.manifest[0]["recording_dt"])
	assert.Equal(t, float64(17), c.backend.manifest[1]["id"])
	assert.NotContains(t, c.backend.manifest[1], "recording_dt")
	assert.Equal(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.Local).UTC().Format(layout), c.backend.manifest[2]["recording_dt"])
	assert.Equal(t, "/srv/audio", c.backend.manifest[2]["path"])
}

func TestUploadCancelledByEmptyAnswer(t *testing.T) {
	c := newTestCLI(t)
	c.login()

	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))

	_, err := c.run("\n", "upload", "Oslo", path)
	require.Error(t, err)

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	assert.Nil(t, c.backend.manifest, "nothing is sent after cancelling")
}

func TestUploadRejectsUnsupportedFiles(t *testing.T) {
	c := newTestCLI(t)
	c.login()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0o600))

	_, err := c.run("", "upload", "Oslo", path)
	require.Error(t, err)
}

func TestObservationsListAndExport(t *testing.T) {
	c := newTestCLI(t)
	c.login()

	out, err := c.run("", "observations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Turdus merula")
	assert.Contains(t, out, "1 observations in total")

	out, err = c.run("", "observations", "export")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Species Name,Common Name,Source,Date"))
	assert.Contains(t, lines[1], "Turdus merula")
	assert.Contains(t, lines[1], "a.wav")

	target := filepath.Join(t.TempDir(), "obs.csv")
	_, err = c.run("", "observations", "export", "--file", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Blackbird")
}

func TestInvalidIDsFailBeforeNetwork(t *testing.T) {
	c := newTestCLI(t)
	for _, args := range [][]string{
		{"datafiles", "show", "abc"},
		{"datafiles", "check-quality", "0"},
		{"observations", "delete", "0"},
		{"media", "waveform", "x"},
	} {
		_, err := c.run("", args...)
		require.Error(t, err, "%v", args)
		assert.True(t, api.IsValidationError(err), "%v: %v", args, err)
	}
}

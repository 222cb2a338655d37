package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// staticTokens always presents the same bearer token and cannot refresh.
type staticTokens struct{}

func (staticTokens) AccessToken() string { return "test-token" }

func (staticTokens) Refresh(context.Context, string) (session.Session, error) {
	return session.Session{}, api.NewAuthError(api.ErrNotLoggedIn)
}

func (staticTokens) Logout(context.Context) {}

type testEnv struct {
	svc   *Service
	cache *querycache.Cache
	sites *session.SiteNames
}

func newTestService(t *testing.T, handler http.Handler, mutate ...func(*Config)) *testEnv {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	hc := httpclient.New(nil)
	t.Cleanup(hc.Close)

	cache := querycache.New(querycache.Config{StaleTime: time.Minute})
	sites := session.NewSiteNames(session.NewMemoryStorage())
	cfg := Config{
		Client:    api.NewClient(server.URL, hc, staticTokens{}, nil),
		Cache:     cache,
		SiteNames: sites,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return &testEnv{svc: svc, cache: cache, sites: sites}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const deploymentsJSON = `[
	{"id": 1, "deployment_ID": "NINA-01", "site_name": "Oslo", "country": "Norway",
	 "deployment_start": "2024-04-01T00:00:00Z", "deployment_end": null, "folder_size": 2048},
	{"id": 2, "deployment_ID": "NINA-02", "site_name": "Bergen", "country": "norway",
	 "deployment_start": "2023-04-01", "deployment_end": "2023-09-01"},
	{"id": 3, "deployment_ID": "NINA-03", "site_name": "Uppsala", "country": "Sweden",
	 "deployment_start": "2024-04-01T00:00:00Z", "deployment_end": "2099-01-01T00:00:00Z"}
]`

func TestNewServiceRequiresClientAndCache(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestDeploymentsCountryFilterAndSplit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/deployment/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(deploymentsJSON))
	})
	env := newTestService(t, mux)

	norway, err := env.svc.Deployments(t.Context(), DeploymentFilter{Country: " NORWAY "})
	require.NoError(t, err)
	require.Len(t, norway, 2)

	all, err := env.svc.Deployments(t.Context(), DeploymentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int32(1), calls.Load(), "filtering is client-side over one cached list")

	active, ended := SplitDeployments(all, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, active, 2)
	require.Len(t, ended, 1)
	assert.Equal(t, "Bergen", ended[0].SiteName)
	assert.Equal(t, "Oslo", active[0].SiteName)
	assert.Equal(t, "Uppsala", active[1].SiteName)
}

func TestDeploymentRemembersSiteName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/deployment/by_site/{site}/", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("site") != "Oslo" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Deployment not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "deployment_ID": "NINA-01", "site_name": "Oslo"})
	})
	env := newTestService(t, mux)

	d, err := env.svc.Deployment(t.Context(), "Oslo")
	require.NoError(t, err)
	assert.Equal(t, "NINA-01", d.DeploymentID)

	site, ok, err := env.svc.SiteForDevice(t.Context(), "NINA-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Oslo", site)

	_, err = env.svc.Deployment(t.Context(), "Atlantis")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	httpErr, ok := api.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, "Deployment not found", httpErr.Message)

	_, err = env.svc.Deployment(t.Context(), "  ")
	assert.True(t, api.IsValidationError(err))
}

func TestUpsertDeploymentReportsCreatedAndSettles(t *testing.T) {
	var listCalls, upserts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/deployment/", func(w http.ResponseWriter, _ *http.Request) {
		listCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(deploymentsJSON))
	})
	mux.HandleFunc("POST /api/deployment/upsert_deployment/", func(w http.ResponseWriter, r *http.Request) {
		var body Deployment
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status := http.StatusOK
		if upserts.Add(1) == 1 {
			status = http.StatusCreated
		}
		writeJSON(w, status, body)
	})
	env := newTestService(t, mux)

	_, err := env.svc.Deployments(t.Context(), DeploymentFilter{})
	require.NoError(t, err)

	res, err := env.svc.UpsertDeployment(t.Context(), Deployment{DeploymentID: "NINA-04", SiteName: "Tromsø"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Tromsø", res.Record.SiteName)

	res, err = env.svc.UpsertDeployment(t.Context(), Deployment{DeploymentID: "NINA-04", SiteName: "Tromsø"})
	require.NoError(t, err)
	assert.False(t, res.Created)

	_, err = env.svc.Deployments(t.Context(), DeploymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), listCalls.Load(), "upsert invalidates the deployment list")
}

func TestUpsertValidationAndFailureLeaveCacheIntact(t *testing.T) {
	var listCalls, upserts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/", func(w http.ResponseWriter, _ *http.Request) {
		listCalls.Add(1)
		writeJSON(w, http.StatusOK, []Device{{DeviceID: "DEV-1"}})
	})
	mux.HandleFunc("POST /api/devices/upsert_device/", func(w http.ResponseWriter, _ *http.Request) {
		upserts.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sd_card_size must be positive"})
	})
	env := newTestService(t, mux)

	_, err := env.svc.Devices(t.Context())
	require.NoError(t, err)

	_, err = env.svc.UpsertDevice(t.Context(), Device{Name: "no id"})
	require.Error(t, err)
	assert.True(t, api.IsValidationError(err))
	assert.Equal(t, int32(0), upserts.Load())

	_, err = env.svc.UpsertDevice(t.Context(), Device{DeviceID: "DEV-1", SDCardSize: "-1"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, api.StatusCode(err))

	_, err = env.svc.Devices(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), listCalls.Load(), "a failed mutation invalidates nothing")
}

func TestDeviceLookups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"device_ID": r.PathValue("id"), "sd_card_size": "32.00"})
	})
	mux.HandleFunc("GET /api/devices/by_site/{site}/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"device_ID": "DEV-7", "name": "AudioMoth"})
	})
	env := newTestService(t, mux)

	d, err := env.svc.Device(t.Context(), "DEV-3")
	require.NoError(t, err)
	assert.Equal(t, "DEV-3", d.DeviceID)
	assert.Equal(t, "32.00", d.SDCardSize.String())

	d, err = env.svc.DeviceForSite(t.Context(), "Oslo")
	require.NoError(t, err)
	assert.Equal(t, "AudioMoth", d.Name)

	site, ok, err := env.svc.SiteForDevice(t.Context(), "DEV-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Oslo", site)
}

func TestDataFilesAcceptsEnvelopeAndArray(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datafile/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("deployment__site_name") {
		case "Oslo":
			writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{
				{"id": 4, "file_name": "a.wav", "quality_check_status": "not_checked", "recording_dt": "2024-05-01T10:00:00Z"},
			}})
		default:
			writeJSON(w, http.StatusOK, []map[string]any{{"id": 5, "file_name": "b.flac"}})
		}
	})
	env := newTestService(t, mux)

	files, err := env.svc.DataFiles(t.Context(), "Oslo")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.wav", files[0].FileName)
	assert.Equal(t, QualityNotChecked, files[0].QualityCheckStatus)
	assert.Equal(t, 2024, files[0].RecordingDT.Year())

	files, err = env.svc.DataFiles(t.Context(), "Bergen")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(5), files[0].ID)
}

func TestDateRangeAndWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datafile/date_range", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Oslo", r.URL.Query().Get("site_name"))
		writeJSON(w, http.StatusOK, map[string]string{"first_date": "2024-04-01", "last_date": "2024-06-30"})
	})
	mux.HandleFunc("GET /api/datafile/filter_by_date", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "04-01-2024", q.Get("start_date"))
		assert.Equal(t, "04-30-2024", q.Get("end_date"))
		assert.Equal(t, "Oslo", q.Get("site_name"))
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 9, "file_name": "c.wav"}})
	})
	env := newTestService(t, mux)

	dr, err := env.svc.DateRange(t.Context(), "Oslo")
	require.NoError(t, err)
	assert.Equal(t, time.April, dr.FirstDate.Month())
	assert.Equal(t, 30, dr.LastDate.Day())

	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	files, err := env.svc.DataFilesBetween(t.Context(), "Oslo", from, to)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = env.svc.DataFilesBetween(t.Context(), "Oslo", to, from)
	assert.True(t, api.IsValidationError(err))
}

func TestReadsRequireEnabledSession(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, []any{})
	})
	env := newTestService(t, mux, func(cfg *Config) {
		cfg.Enabled = func() bool { return false }
	})

	_, err := env.svc.Devices(t.Context())
	assert.True(t, api.IsAuthError(err))
	_, err = env.svc.Observations(t.Context(), 1, 0)
	assert.True(t, api.IsAuthError(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestTimeDecoding(t *testing.T) {
	tests := []struct {
		in   string
		zero bool
		want time.Time
	}{
		{`null`, true, time.Time{}},
		{`""`, true, time.Time{}},
		{`"2024-05-01T10:00:00Z"`, false, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-05-01T10:00:00"`, false, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{`"2024-05-01"`, false, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got Time
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.zero, got.IsZero())
			if !tt.zero {
				assert.True(t, tt.want.Equal(got.Time))
			}
		})
	}

	var bad Time
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

// gate holds backend responses until it is opened. Register open with
// t.Cleanup after the test server so server.Close never waits on it.
type gate struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait() {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func TestCancelledReaderDoesNotFailConcurrentReaders(t *testing.T) {
	g := newGate()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datafile/", func(w http.ResponseWriter, r *http.Request) {
		g.wait()
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 4, "file_name": "a.wav"}})
	})
	env := newTestService(t, mux)
	t.Cleanup(g.open)

	ctxA, cancelA := context.WithCancel(t.Context())
	errA := make(chan error, 1)
	go func() {
		_, err := env.svc.DataFiles(ctxA, "Oslo")
		errA <- err
	}()
	<-g.started

	type result struct {
		files []DataFile
		err   error
	}
	doneB := make(chan result, 1)
	go func() {
		files, err := env.svc.DataFiles(context.Background(), "Oslo")
		doneB <- result{files, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)
	g.open()

	b := <-doneB
	require.NoError(t, b.err)
	require.Len(t, b.files, 1)
	assert.Equal(t, "a.wav", b.files[0].FileName)
	assert.Equal(t, int32(1), g.calls.Load())
}

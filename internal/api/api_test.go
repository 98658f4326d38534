package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/backup"
	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
	"github.com/bedrockmgr/bedrock-server-manager/internal/database"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
	"github.com/bedrockmgr/bedrock-server-manager/internal/updater"
)

type fakeSupervisor struct {
	states   map[string]server.State
	running  map[string]bool
	started  []string
	stopped  []string
	commands []string
	startErr error
}

func (f *fakeSupervisor) Start(inst server.Instance) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, inst.Name)
	return nil
}

func (f *fakeSupervisor) Stop(inst server.Instance) error {
	f.stopped = append(f.stopped, inst.Name)
	return nil
}

func (f *fakeSupervisor) Restart(inst server.Instance) error { return nil }

func (f *fakeSupervisor) SendCommand(inst server.Instance, text string) error {
	f.commands = append(f.commands, text)
	return nil
}

func (f *fakeSupervisor) Probe(inst server.Instance) (server.ProbeResult, error) {
	return server.ProbeResult{Running: f.running[inst.Name]}, nil
}

func (f *fakeSupervisor) State(name string) server.State {
	if state, ok := f.states[name]; ok {
		return state
	}
	return server.StateStopped
}

func (f *fakeSupervisor) Metrics(inst server.Instance) (server.ProcMetrics, error) {
	return server.ProcMetrics{}, apperr.ErrChannelNotFound
}

func (f *fakeSupervisor) ForgetInstance(name string) {}

type fakeBackups struct {
	listed []backup.Artifact
}

func (f *fakeBackups) BackupAll(inst server.Instance, stopStart bool) (*backup.Report, error) {
	return &backup.Report{Instance: inst.Name, Created: []string{"world_backup_20260101_000000.mcworld"}}, nil
}

func (f *fakeBackups) RestoreAll(inst server.Instance, stopStart bool) (*backup.Report, error) {
	return &backup.Report{Instance: inst.Name}, nil
}

func (f *fakeBackups) Prune(inst server.Instance, keepPerKind int) (*backup.Report, error) {
	return &backup.Report{Instance: inst.Name}, nil
}

func (f *fakeBackups) List(inst server.Instance) ([]backup.Artifact, error) {
	return f.listed, nil
}

type fakeUpdater struct{}

func (f *fakeUpdater) Update(inst server.Instance) (*updater.Result, error) {
	return &updater.Result{Instance: inst.Name, ToVersion: "1.21.0.3"}, nil
}

type fakeScanner struct{ count int }

func (f *fakeScanner) Scan(inst server.Instance) (int, error) { return f.count, nil }

type fakeProps struct{ values map[string]string }

func (f *fakeProps) GetProperty(instance, key string) (string, error) {
	value, ok := f.values[key]
	if !ok {
		return "", apperr.Wrap(apperr.ErrUserInput, "unknown property %q", key)
	}
	return value, nil
}

func (f *fakeProps) SetProperty(instance, key, value string) error {
	f.values[key] = value
	return nil
}

type testAPI struct {
	router http.Handler
	sup    *fakeSupervisor
	props  *fakeProps
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := database.NewDB(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Username = "admin"
	cfg.Auth.PasswordHash = hash
	cfg.Auth.AccessTokenDuration = "15m"
	cfg.Storage.ServersDir = t.TempDir()
	cfg.Backup.KeepPerKind = 3

	st := store.New(db.DB)
	if err := st.CreateInstance(&store.Instance{Name: "Survival", InstallDir: cfg.ServerDir("Survival")}); err != nil {
		t.Fatalf("seed instance: %v", err)
	}

	sup := &fakeSupervisor{
		states:  map[string]server.State{"Survival": server.StateRunning},
		running: map[string]bool{},
	}
	props := &fakeProps{values: map[string]string{"level-name": "MyWorld"}}

	h := NewHandler(cfg, st, sup, &fakeBackups{}, &fakeUpdater{}, &fakeScanner{count: 2}, props, nil)
	router := SetupRouter(h, "info", nil)

	token, err := h.jwt.Generate("admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	return &testAPI{router: router, sup: sup, props: props, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestLoginIssuesToken(t *testing.T) {
	a := newTestAPI(t)
	a.token = ""

	w := a.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "hunter2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["token"] == "" {
		t.Fatal("expected a token")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	a := newTestAPI(t)
	a.token = ""

	w := a.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	a := newTestAPI(t)
	a.token = ""

	w := a.do(t, http.MethodGet, "/api/servers", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestListServersReportsState(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/servers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	servers := decode(t, w)["servers"].([]interface{})
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	first := servers[0].(map[string]interface{})
	if first["name"] != "Survival" || first["status"] != "Running" {
		t.Fatalf("unexpected server entry: %v", first)
	}
}

func TestCreateServerValidatesName(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers", map[string]string{"name": "../escape"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPost, "/api/servers", map[string]string{"name": "Creative"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
}

func TestUnknownServerIs404(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Nope/start", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", w.Code, w.Body.String())
	}
}

func TestStartActionDrivesSupervisor(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Survival/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	if len(a.sup.started) != 1 || a.sup.started[0] != "Survival" {
		t.Fatalf("supervisor starts: %v", a.sup.started)
	}
}

func TestSendCommandRequiresBody(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Survival/command", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = a.do(t, http.MethodPost, "/api/servers/Survival/command", map[string]string{"command": "say hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("command: %d %s", w.Code, w.Body.String())
	}
	if len(a.sup.commands) != 1 || a.sup.commands[0] != "say hi" {
		t.Fatalf("commands: %v", a.sup.commands)
	}
}

func TestDeleteRunningServerConflicts(t *testing.T) {
	a := newTestAPI(t)
	a.sup.running["Survival"] = true

	w := a.do(t, http.MethodDelete, "/api/servers/Survival", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	a.sup.running["Survival"] = false
	w = a.do(t, http.MethodDelete, "/api/servers/Survival", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodGet, "/api/servers/Survival", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestBackupReturnsReport(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Survival/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backup: %d %s", w.Code, w.Body.String())
	}

	body := decode(t, w)
	created := body["created"].([]interface{})
	if len(created) != 1 || body["ok"] != true {
		t.Fatalf("unexpected report: %v", body)
	}
}

func TestPruneRejectsBadKeep(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Survival/prune?keep=lots", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPropertiesRoundTrip(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/servers/Survival/properties?key=level-name", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get property: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["value"] != "MyWorld" {
		t.Fatalf("unexpected value: %s", w.Body.String())
	}

	w = a.do(t, http.MethodPut, "/api/servers/Survival/properties", map[string]string{
		"key":   "max-players",
		"value": "20",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set property: %d %s", w.Code, w.Body.String())
	}
	if a.props.values["max-players"] != "20" {
		t.Fatalf("property not written: %v", a.props.values)
	}

	w = a.do(t, http.MethodGet, "/api/servers/Survival/properties?key=missing", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown property, got %d", w.Code)
	}
}

func TestScanPlayersReturnsCount(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/servers/Survival/scan-players", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", w.Code, w.Body.String())
	}
	if decode(t, w)["players_found"].(float64) != 2 {
		t.Fatalf("unexpected count: %s", w.Body.String())
	}
}

func TestParseDurationFallback(t *testing.T) {
	result := parseDuration("not-a-duration")
	if result.Minutes() != 15 {
		t.Fatalf("expected 15 minute fallback, got %v", result)
	}
}

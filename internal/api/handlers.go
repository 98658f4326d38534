package api

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/backup"
	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
	"github.com/bedrockmgr/bedrock-server-manager/internal/logging"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
	"github.com/bedrockmgr/bedrock-server-manager/internal/updater"
)

// Supervisor is the slice of the process supervisor the API drives.
type Supervisor interface {
	Start(inst server.Instance) error
	Stop(inst server.Instance) error
	Restart(inst server.Instance) error
	SendCommand(inst server.Instance, text string) error
	Probe(inst server.Instance) (server.ProbeResult, error)
	State(name string) server.State
	Metrics(inst server.Instance) (server.ProcMetrics, error)
	ForgetInstance(name string)
}

// BackupEngine is the slice of the backup engine the API drives.
type BackupEngine interface {
	BackupAll(inst server.Instance, stopStart bool) (*backup.Report, error)
	RestoreAll(inst server.Instance, stopStart bool) (*backup.Report, error)
	Prune(inst server.Instance, keepPerKind int) (*backup.Report, error)
	List(inst server.Instance) ([]backup.Artifact, error)
}

// UpdateRunner performs the version update workflow.
type UpdateRunner interface {
	Update(inst server.Instance) (*updater.Result, error)
}

// PlayerScanner records players from the console log.
type PlayerScanner interface {
	Scan(inst server.Instance) (int, error)
}

// PropertyEditor reads and writes server.properties keys.
type PropertyEditor interface {
	GetProperty(instance, key string) (string, error)
	SetProperty(instance, key, value string) error
}

// Handler owns the HTTP endpoints.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	sup      Supervisor
	backups  BackupEngine
	update   UpdateRunner
	scanner  PlayerScanner
	props    PropertyEditor
	activity *logging.ActivityLogger
	jwt      *JWTManager
}

// NewHandler creates the endpoint handler. activity may be nil.
func NewHandler(cfg *config.Config, st *store.Store, sup Supervisor, backups BackupEngine, update UpdateRunner, scanner PlayerScanner, props PropertyEditor, activity *logging.ActivityLogger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		sup:      sup,
		backups:  backups,
		update:   update,
		scanner:  scanner,
		props:    props,
		activity: activity,
		jwt:      NewJWTManager(cfg.Auth.JWTSecret, parseDuration(cfg.Auth.AccessTokenDuration)),
	}
}

// statusFor maps error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUserInput), errors.Is(err, apperr.ErrInvalidServerName), errors.Is(err, apperr.ErrConfigParse):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrFileNotFound), errors.Is(err, apperr.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// instance resolves the :name parameter into a live instance handle.
// An unknown name is a 404 here; the 400 mapping of invalid names is
// reserved for creation input.
func (h *Handler) instance(c *gin.Context) (server.Instance, *store.Instance, bool) {
	name := c.Param("name")
	record, err := h.store.GetInstance(name)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, apperr.ErrInvalidServerName) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return server.Instance{}, nil, false
	}
	return server.Instance{Name: record.Name, InstallDir: record.InstallDir}, record, true
}

func (h *Handler) record(instance, action, message string, err error) {
	if h.activity != nil {
		h.activity.RecordAction(instance, action, message, err)
	}
}

// Login verifies the configured credentials and issues a token.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if req.Username != h.cfg.Auth.Username || VerifyPassword(req.Password, h.cfg.Auth.PasswordHash) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.jwt.Generate(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// ListServers returns all instance records with their live state.
func (h *Handler) ListServers(c *gin.Context) {
	records, err := h.store.ListInstances()
	if err != nil {
		fail(c, err)
		return
	}

	servers := make([]gin.H, 0, len(records))
	for _, record := range records {
		servers = append(servers, gin.H{
			"name":              record.Name,
			"status":            string(h.sup.State(record.Name)),
			"installed_version": record.InstalledVersion,
			"target_version":    record.TargetVersion,
			"autostart":         record.Autostart,
			"autoupdate":        record.Autoupdate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

// CreateServer registers a new instance record.
func (h *Handler) CreateServer(c *gin.Context) {
	var req struct {
		Name          string `json:"name" binding:"required"`
		TargetVersion string `json:"target_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if err := store.ValidateInstanceName(req.Name); err != nil {
		fail(c, err)
		return
	}

	record := &store.Instance{
		Name:          req.Name,
		InstallDir:    h.cfg.ServerDir(req.Name),
		TargetVersion: req.TargetVersion,
	}
	if err := h.store.CreateInstance(record); err != nil {
		fail(c, err)
		return
	}

	h.record(req.Name, logging.ActionServerCreate, "instance registered", nil)
	c.JSON(http.StatusCreated, gin.H{"name": record.Name, "install_dir": record.InstallDir})
}

// DeleteServer removes the record and all supervisor state.
func (h *Handler) DeleteServer(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	if probe, err := h.sup.Probe(inst); err == nil && probe.Running {
		c.JSON(http.StatusConflict, gin.H{"error": "instance is running; stop it first"})
		return
	}

	if err := h.store.DeleteInstance(inst.Name); err != nil {
		fail(c, err)
		return
	}
	h.sup.ForgetInstance(inst.Name)
	if err := os.RemoveAll(h.cfg.InstanceBackupDir(inst.Name)); err != nil {
		log.Printf("[API] Failed to remove backups for %s: %v", inst.Name, err)
	}

	h.record(inst.Name, logging.ActionServerDelete, "instance deleted", nil)
	c.JSON(http.StatusOK, gin.H{"deleted": inst.Name})
}

// GetServer returns one instance with live process metrics.
func (h *Handler) GetServer(c *gin.Context) {
	inst, record, ok := h.instance(c)
	if !ok {
		return
	}

	response := gin.H{
		"name":              record.Name,
		"install_dir":       record.InstallDir,
		"status":            string(h.sup.State(record.Name)),
		"installed_version": record.InstalledVersion,
		"target_version":    record.TargetVersion,
		"autostart":         record.Autostart,
		"autoupdate":        record.Autoupdate,
	}

	if m, err := h.sup.Metrics(inst); err == nil {
		response["pid"] = m.PID
		response["cpu_percent"] = m.CPUPercent
		response["memory_rss_bytes"] = m.RSSBytes
	}

	c.JSON(http.StatusOK, response)
}

// StartServer starts the instance and waits for it to come up.
func (h *Handler) StartServer(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	err := h.sup.Start(inst)
	h.record(inst.Name, logging.ActionServerStart, "start requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(h.sup.State(inst.Name))})
}

// StopServer stops the instance and waits for it to exit.
func (h *Handler) StopServer(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	err := h.sup.Stop(inst)
	h.record(inst.Name, logging.ActionServerStop, "stop requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(h.sup.State(inst.Name))})
}

// RestartServer warns players, then cycles the instance.
func (h *Handler) RestartServer(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	err := h.sup.Restart(inst)
	h.record(inst.Name, logging.ActionServerRestart, "restart requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(h.sup.State(inst.Name))})
}

// SendCommand delivers one console command.
func (h *Handler) SendCommand(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	var req struct {
		Command string `json:"command" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	err := h.sup.SendCommand(inst, req.Command)
	h.record(inst.Name, logging.ActionCommandSend, req.Command, err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": req.Command})
}

// UpdateServer runs the version update workflow.
func (h *Handler) UpdateServer(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	result, err := h.update.Update(inst)
	h.record(inst.Name, logging.ActionUpdate, "update requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from_version": result.FromVersion,
		"to_version":   result.ToVersion,
		"up_to_date":   result.UpToDate,
	})
}

// BackupAll archives the world and config files.
func (h *Handler) BackupAll(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	report, err := h.backups.BackupAll(inst, true)
	h.record(inst.Name, logging.ActionBackupCreate, "backup-all requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportJSON(report))
}

// RestoreAll restores the newest artifact of each kind.
func (h *Handler) RestoreAll(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	report, err := h.backups.RestoreAll(inst, true)
	h.record(inst.Name, logging.ActionBackupRestore, "restore-all requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportJSON(report))
}

// PruneBackups trims each artifact kind to the retention limit.
func (h *Handler) PruneBackups(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	keep := h.cfg.Backup.KeepPerKind
	if param := c.Query("keep"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "keep must be a non-negative integer"})
			return
		}
		keep = parsed
	}

	report, err := h.backups.Prune(inst, keep)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reportJSON(report))
}

// ListBackups returns the instance's artifacts, newest first.
func (h *Handler) ListBackups(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	artifacts, err := h.backups.List(inst)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, gin.H{
			"kind":       artifact.Kind,
			"filename":   artifact.Filename,
			"created_at": artifact.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"backups": out})
}

// ScanPlayers parses the console log for player sightings.
func (h *Handler) ScanPlayers(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	count, err := h.scanner.Scan(inst)
	h.record(inst.Name, logging.ActionPlayerScan, "player scan requested", err)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players_found": count})
}

// ListPlayers returns every recorded player sighting.
func (h *Handler) ListPlayers(c *gin.Context) {
	players, err := h.store.ListPlayers()
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(players))
	for _, player := range players {
		out = append(out, gin.H{
			"xuid":          player.XUID,
			"name":          player.Name,
			"last_seen":     player.LastSeen.Format(time.RFC3339),
			"last_instance": player.LastInstance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"players": out})
}

// GetProperty reads one server.properties key.
func (h *Handler) GetProperty(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	value, err := h.props.GetProperty(inst.Name, key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

// SetProperty writes one server.properties key.
func (h *Handler) SetProperty(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	if err := h.props.SetProperty(inst.Name, req.Key, req.Value); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": req.Key, "value": req.Value})
}

// Activity returns the recent activity log for one instance.
func (h *Handler) Activity(c *gin.Context) {
	inst, _, ok := h.instance(c)
	if !ok {
		return
	}
	if h.activity == nil {
		c.JSON(http.StatusOK, gin.H{"activity": []gin.H{}})
		return
	}

	entries, err := h.activity.Recent(inst.Name, 50)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		item := gin.H{
			"action":      entry.Action,
			"description": entry.Description,
			"success":     entry.Success,
			"timestamp":   entry.Timestamp.Format(time.RFC3339),
		}
		if entry.ErrorMessage != "" {
			item["error"] = entry.ErrorMessage
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"activity": out})
}

func reportJSON(report *backup.Report) gin.H {
	failures := make([]gin.H, 0, len(report.Failures))
	for _, failure := range report.Failures {
		failures = append(failures, gin.H{"item": failure.Item, "error": failure.Err.Error()})
	}

	out := gin.H{
		"instance": report.Instance,
		"created":  report.Created,
		"restored": report.Restored,
		"deleted":  report.Deleted,
		"missing":  report.Missing,
		"failures": failures,
		"ok":       report.OK(),
	}
	if report.RestartErr != nil {
		out["restart_error"] = report.RestartErr.Error()
	}
	return out
}

// Package api implements the plugin admin control surface: the thin HTTP
// layer over the in-memory plugin manager (pkg/manifest, internal/plugins).
//
// Every handler method here mirrors one control-plane operation; none of
// them touch a database — the plugin manager is the single source of
// truth, and these handlers only translate HTTP <-> manager calls.
package api

import (
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	apperrors "github.com/listingcore/core/internal/errors"
	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/manifest"
)

// PluginHandler handles the HTTP control surface for plugin lifecycle
// administration: register, list, detail, enable/disable, reload,
// unregister.
type PluginHandler struct {
	manager  *plugins.Manager
	readFile func(path string) ([]byte, error)

	// manifestOf maps plugin id -> source manifest path, for reload.
	// Gin runs handlers concurrently, so every access goes through mu.
	mu         sync.RWMutex
	manifestOf map[string]string
}

// NewPluginHandler wires a PluginHandler to manager. manifestPaths maps
// each loaded plugin's id to the plugin.yaml path it was discovered
// from, so that Reload can re-read it from disk.
func NewPluginHandler(manager *plugins.Manager, manifestPaths map[string]string) *PluginHandler {
	if manifestPaths == nil {
		manifestPaths = make(map[string]string)
	}
	return &PluginHandler{
		manager:    manager,
		readFile:   os.ReadFile,
		manifestOf: manifestPaths,
	}
}

// RegisterRoutes mounts the plugin admin endpoints under /api/v1/plugins.
func (h *PluginHandler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/plugins")
	{
		p.POST("/register", h.Register)
		p.GET("", h.List)
		p.GET("/:id", h.Get)
		p.PUT("/:id/enable", h.Enable)
		p.PUT("/:id/disable", h.Disable)
		p.POST("/:id/reload", h.Reload)
		p.DELETE("/:id", h.Unregister)
	}
}

// pluginRecord is the JSON shape returned for a loaded plugin: manifest
// summary, lifecycle state, and per-plugin counters.
type pluginRecord struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Version         string             `json:"version"`
	Kind            manifest.Kind      `json:"kind"`
	State           plugins.State      `json:"state"`
	FailReason      string             `json:"fail_reason,omitempty"`
	Invocations     int64              `json:"invocations"`
	Failures        int64              `json:"failures"`
	HealthFailures  int                `json:"health_consecutive_failures,omitempty"`
	HealthLastError string             `json:"health_last_error,omitempty"`
	Manifest        *manifest.Manifest `json:"manifest,omitempty"`
}

func (h *PluginHandler) toRecord(lp *plugins.LoadedPlugin) pluginRecord {
	rec := pluginRecord{
		ID:         lp.Manifest.ID,
		Name:       lp.Manifest.Name,
		Version:    lp.Manifest.Version,
		Kind:       lp.Manifest.Kind,
		State:      lp.State,
		FailReason: lp.FailReason,
		Manifest:   lp.Manifest,
	}
	if lp.Counters != nil {
		rec.Invocations = atomic.LoadInt64(&lp.Counters.Invocations)
		rec.Failures = atomic.LoadInt64(&lp.Counters.Failures)
	}
	if fails, err, ok := h.manager.HealthStatus(lp.Manifest.ID); ok {
		rec.HealthFailures = fails
		if err != nil {
			rec.HealthLastError = err.Error()
		}
	}
	return rec
}

// registerRequest is the body of POST /plugins/register: the path to a
// plugin.yaml already placed on disk (the handler does not accept raw
// manifest bytes over the wire — discovery owns reading plugin.yaml).
type registerRequest struct {
	ManifestPath string `json:"manifest_path" binding:"required"`
}

// Register loads a single plugin from a manifest path already on disk
// and adds it to the registry, re-running dependency-graph validation
// over the union of the current registry and this one plugin.
//
// Endpoint: POST /api/v1/plugins/register
func (h *PluginHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithError(c, apperrors.BadRequest("manifest_path is required"))
		return
	}

	data, err := h.readFile(req.ManifestPath)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.NewWithDetails(apperrors.ErrCodeManifestInvalid, "could not read manifest", err.Error()))
		return
	}
	mf, err := manifest.Parse(data)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Wrap(apperrors.ErrCodeManifestInvalid, "manifest failed validation", err))
		return
	}

	result := h.manager.Load(c.Request.Context(), []*manifest.Manifest{mf})
	if len(result.Failed) > 0 {
		reason := result.Failed[0].Reason
		apperrors.AbortWithError(c, apperrors.Wrap(apperrors.ErrCodeLoadFailed, "plugin failed to load", reason))
		return
	}
	h.mu.Lock()
	h.manifestOf[mf.ID] = req.ManifestPath
	h.mu.Unlock()

	lp, err := h.manager.Get(mf.ID)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.InternalServer("plugin loaded but not found in registry"))
		return
	}
	c.JSON(http.StatusCreated, h.toRecord(lp))
}

// List returns every loaded plugin, optionally filtered by kind/state
// query parameters.
//
// Endpoint: GET /api/v1/plugins?kind=detection&state=enabled
func (h *PluginHandler) List(c *gin.Context) {
	filter := plugins.Filter{
		Kind:  manifest.Kind(c.Query("kind")),
		State: plugins.State(c.Query("state")),
	}
	loaded := h.manager.List(filter)
	records := make([]pluginRecord, 0, len(loaded))
	for _, lp := range loaded {
		records = append(records, h.toRecord(lp))
	}
	c.JSON(http.StatusOK, gin.H{"plugins": records, "total": len(records)})
}

// Get returns one plugin's full detail record.
//
// Endpoint: GET /api/v1/plugins/{id}
func (h *PluginHandler) Get(c *gin.Context) {
	lp, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.abortManagerErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toRecord(lp))
}

// Enable transitions a plugin from Configured/Disabled to Enabled.
//
// Endpoint: PUT /api/v1/plugins/{id}/enable
func (h *PluginHandler) Enable(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Enable(c.Request.Context(), id); err != nil {
		h.abortManagerErr(c, err)
		return
	}
	lp, _ := h.manager.Get(id)
	c.JSON(http.StatusOK, h.toRecord(lp))
}

// Disable transitions a plugin from Enabled to Disabled.
//
// Endpoint: PUT /api/v1/plugins/{id}/disable
func (h *PluginHandler) Disable(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Disable(c.Request.Context(), id); err != nil {
		h.abortManagerErr(c, err)
		return
	}
	lp, _ := h.manager.Get(id)
	c.JSON(http.StatusOK, h.toRecord(lp))
}

// Reload hot-swaps a plugin's live instance via the manager's five-step
// reload sequence, re-reading the manifest from the path it was
// originally registered from.
//
// Endpoint: POST /api/v1/plugins/{id}/reload
func (h *PluginHandler) Reload(c *gin.Context) {
	id := c.Param("id")
	h.mu.RLock()
	path, ok := h.manifestOf[id]
	h.mu.RUnlock()
	if !ok {
		apperrors.AbortWithError(c, apperrors.BadRequest("plugin "+id+" was not registered from a known manifest path"))
		return
	}
	if err := h.manager.Reload(c.Request.Context(), id, path); err != nil {
		h.abortManagerErr(c, err)
		return
	}
	lp, _ := h.manager.Get(id)
	logger.HTTP().Info().Str("plugin_id", id).Msg("plugin reloaded via control surface")
	c.JSON(http.StatusOK, h.toRecord(lp))
}

// Unregister unloads a plugin entirely, failing with 409 if another
// loaded plugin still depends on it.
//
// Endpoint: DELETE /api/v1/plugins/{id}
func (h *PluginHandler) Unregister(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Unload(c.Request.Context(), id); err != nil {
		h.abortManagerErr(c, err)
		return
	}
	h.mu.Lock()
	delete(h.manifestOf, id)
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "plugin unregistered", "id": id})
}

// abortManagerErr passes a *errors.AppError from the manager straight
// through; any other error (a lifecycle hook failure returned by Enable,
// Disable or Unload) is wrapped as an internal fault.
func (h *PluginHandler) abortManagerErr(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		apperrors.AbortWithError(c, appErr)
		return
	}
	apperrors.AbortWithError(c, apperrors.InternalServer(err.Error()))
}

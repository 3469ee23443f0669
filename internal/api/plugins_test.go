package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/model"
)

type stubProcessor struct{ id string }

func (s *stubProcessor) ID() string { return s.id }
func (s *stubProcessor) Configure(ctx context.Context, _ map[string]interface{}) error {
	return nil
}
func (s *stubProcessor) Shutdown(ctx context.Context) error { return nil }
func (s *stubProcessor) Process(ctx context.Context, l model.Listing) (model.Listing, error) {
	return l, nil
}
func (s *stubProcessor) Priority() int { return 0 }

func setupPluginHandlerTest(t *testing.T) (*PluginHandler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	plugins.RegisterBuiltin("test/api-handler-stub", func() plugins.Plugin {
		return &stubProcessor{id: "plugin-processing-api-test"}
	})

	manager := plugins.NewManager(nil)
	t.Cleanup(manager.Close)

	handler := NewPluginHandler(manager, map[string]string{})
	router := gin.New()
	v1 := router.Group("/api/v1")
	handler.RegisterRoutes(v1)
	return handler, router
}

func loadTestPlugin(t *testing.T, handler *PluginHandler) {
	t.Helper()
	result := handler.manager.Load(context.Background(), []*manifest.Manifest{{
		ID:          "plugin-processing-api-test",
		Name:        "api-test",
		Version:     "1.0.0",
		Kind:        manifest.KindProcessing,
		APIVersion:  "1.0",
		Description: "fixture plugin for API handler tests",
		Entrypoint:  manifest.Entrypoint{Module: "test/api-handler-stub"},
	}})
	require.Empty(t, result.Failed)
}

func TestPluginHandler_List_Empty(t *testing.T) {
	_, router := setupPluginHandlerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plugins []pluginRecord `json:"plugins"`
		Total   int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Total)
}

func TestPluginHandler_Get_AfterLoad(t *testing.T) {
	handler, router := setupPluginHandlerTest(t)
	loadTestPlugin(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins/plugin-processing-api-test", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var rec1 pluginRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rec1))
	assert.Equal(t, "plugin-processing-api-test", rec1.ID)
	assert.Equal(t, plugins.StateConfigured, rec1.State)
}

func TestPluginHandler_Get_UnknownReturns404(t *testing.T) {
	_, router := setupPluginHandlerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugins/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginHandler_EnableDisableLifecycle(t *testing.T) {
	handler, router := setupPluginHandlerTest(t)
	loadTestPlugin(t, handler)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/plugins/plugin-processing-api-test/enable", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var enabled pluginRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enabled))
	assert.Equal(t, plugins.StateEnabled, enabled.State)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/plugins/plugin-processing-api-test/disable", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var disabled pluginRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &disabled))
	assert.Equal(t, plugins.StateDisabled, disabled.State)
}

func TestPluginHandler_Unregister(t *testing.T) {
	handler, router := setupPluginHandlerTest(t)
	loadTestPlugin(t, handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/plugins/plugin-processing-api-test", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := handler.manager.Get("plugin-processing-api-test")
	assert.Error(t, err)
}

func TestPluginHandler_Reload_UnknownManifestPathRejected(t *testing.T) {
	handler, router := setupPluginHandlerTest(t)
	loadTestPlugin(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plugins/plugin-processing-api-test/reload", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

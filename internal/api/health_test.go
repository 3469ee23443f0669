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

	"github.com/listingcore/core/internal/orchestrator"
	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/queue"
)

func setupHealthHandlerTest(t *testing.T, connect bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	q := queue.NewMemoryQueue()
	if connect {
		require.NoError(t, q.Connect(context.Background()))
	}

	manager := plugins.NewManager(nil)
	t.Cleanup(manager.Close)

	orch := orchestrator.New(q, manager, orchestrator.Config{})
	if connect {
		require.NoError(t, orch.Start(context.Background()))
	}

	router := gin.New()
	NewHealthHandler(orch).RegisterRoutes(router)
	return router
}

func TestHealthHandler_Connected(t *testing.T) {
	router := setupHealthHandlerTest(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	queueStatus := body["queue"].(map[string]interface{})
	assert.Equal(t, true, queueStatus["connected"])
}

func TestHealthHandler_Disconnected(t *testing.T) {
	router := setupHealthHandlerTest(t, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

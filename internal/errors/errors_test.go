package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{BadRequest("bad body"), http.StatusBadRequest},
		{ManifestInvalid("missing id"), http.StatusBadRequest},
		{PluginNotFound("plugin-detection-x"), http.StatusNotFound},
		{PluginAlreadyExists("plugin-detection-x"), http.StatusConflict},
		{DependencyError("unresolved"), http.StatusConflict},
		{Conflict("wrong state"), http.StatusConflict},
		{ReloadFailed("plugin-detection-x", fmt.Errorf("ctor failed")), http.StatusInternalServerError},
		{LoadFailed(fmt.Errorf("no factory")), http.StatusInternalServerError},
		{ServiceUnavailable("queue"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.StatusCode, tt.err.Code)
	}
}

func TestToResponse_CarriesKindMessageDetails(t *testing.T) {
	err := Wrap(ErrCodeReloadFailed, "reload of plugin plugin-detection-x failed", fmt.Errorf("entrypoint missing"))
	resp := err.ToResponse()

	assert.Equal(t, ErrCodeReloadFailed, resp.ErrorKind)
	assert.Equal(t, "reload of plugin plugin-detection-x failed", resp.Message)
	assert.Equal(t, "entrypoint missing", resp.Details)
}

func TestError_FormatsWithAndWithoutDetails(t *testing.T) {
	plain := New(ErrCodeNotFound, "plugin not found")
	assert.Equal(t, "NOT_FOUND: plugin not found", plain.Error())

	detailed := NewWithDetails(ErrCodeNotFound, "plugin not found", "id plugin-search-x")
	assert.Contains(t, detailed.Error(), "id plugin-search-x")
}

func TestWithErr(t *testing.T) {
	err := InternalServer("registry corrupt").WithErr(fmt.Errorf("nil entry"))
	assert.Equal(t, "nil entry", err.Details)
}

package v1

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSelectionTestRouter(h *APIHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/selection", h.handleSelection)
	router.POST("/batch", h.handleBatch)
	return router
}

func TestHandleSelectionListsModesAndChains(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := newSelectionTestRouter(h)

	w := doJSON(t, router, http.MethodPost, "/selection", selectionRequest{FilePath: "/repo/a.go", LineStart: 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "refactor")
	assert.Contains(t, w.Body.String(), "ship")
}

func TestHandleBatchCreatesOneJobPerTag(t *testing.T) {
	h, jobs := newTestHandlers(t)
	router := newSelectionTestRouter(h)

	srcPath := filepath.Join(t.TempDir(), "a.go")
	const src = "package a\n// @@claude:refactor tidy this up\nfunc A() {}\n// @@codex:tests add coverage\n"
	require.NoError(t, os.WriteFile(srcPath, []byte(src), 0o644))

	before := len(jobs.List())
	w := doJSON(t, router, http.MethodPost, "/batch", batchRequest{Files: []string{srcPath}})
	require.Equal(t, http.StatusOK, w.Code)

	after := len(jobs.List())
	assert.Equal(t, before+2, after)
}

package v1

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/config"
)

func TestReloadConfigPicksUpEditedDefinitions(t *testing.T) {
	defsPath := filepath.Join(t.TempDir(), "definitions.yaml")
	require.NoError(t, os.WriteFile(defsPath, []byte("chains: {}\n"), 0o644))
	defs, err := config.NewDefinitionsStore(defsPath)
	require.NoError(t, err)
	_, ok := defs.Get().Chain("ship")
	require.False(t, ok)

	h := &APIHandlers{cfg: config.NewStore(config.Default(), ""), defs: defs}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/ctl/config/reload", h.reloadConfig)

	require.NoError(t, os.WriteFile(defsPath, []byte("chains:\n  ship:\n    name: ship\n    steps:\n      - mode: refactor\n"), 0o644))

	w := doJSON(t, router, http.MethodPost, "/ctl/config/reload", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, ok = defs.Get().Chain("ship")
	assert.True(t, ok)
}

package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/chain"
	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/job"
)

// newTestHandlers builds an APIHandlers wired to a bare in-memory Job
// Manager and a definitions file seeded with one chain ("ship"), with no
// worktree/executor/bridge dependency — enough to exercise the job CRUD
// and create-payload routes.
func newTestHandlers(t *testing.T) (*APIHandlers, *job.Manager) {
	t.Helper()
	jobs := job.NewManager()

	defsPath := filepath.Join(t.TempDir(), "definitions.yaml")
	const defsYAML = `
chains:
  ship:
    name: ship
    steps:
      - mode: refactor
      - mode: tests
`
	require.NoError(t, os.WriteFile(defsPath, []byte(defsYAML), 0o644))
	defs, err := config.NewDefinitionsStore(defsPath)
	require.NoError(t, err)

	chainEngine := chain.New(jobs, defs)
	cfgStore := config.NewStore(config.Default(), "")

	h := NewAPIHandlers(jobs, defs, cfgStore, nil, chainEngine, nil, nil, nil)
	return h, jobs
}

func newTestRouter(h *APIHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.registerJobRoutes(router.Group("/ctl/jobs"))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateJobOrdinaryMode(t *testing.T) {
	h, jobs := newTestHandlers(t)
	router := newTestRouter(h)

	w := doJSON(t, router, http.MethodPost, "/ctl/jobs", createJobRequest{
		FilePath: "/repo/a.go", LineStart: 10, Mode: "refactor", Description: "tidy",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		JobID job.ID `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotZero(t, resp.JobID)

	got, err := jobs.Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "refactor", got.Mode)
	assert.Equal(t, job.StatusPending, got.Status)
}

func TestCreateJobUnknownModeRejected(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := newTestRouter(h)

	w := doJSON(t, router, http.MethodPost, "/ctl/jobs", createJobRequest{
		FilePath: "/repo/a.go", Mode: "no-such-mode",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJobMultiAgentGroup(t *testing.T) {
	h, jobs := newTestHandlers(t)
	router := newTestRouter(h)

	w := doJSON(t, router, http.MethodPost, "/ctl/jobs", createJobRequest{
		FilePath: "/repo/a.go", Mode: "refactor", Agents: []string{"claude", "codex"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		GroupID job.GroupID `json:"group_id"`
		JobIDs  []job.ID    `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.JobIDs, 2)

	group, err := jobs.GetGroup(resp.GroupID)
	require.NoError(t, err)
	assert.Len(t, group.JobIDs, 2)
}

func TestGetJobNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := newTestRouter(h)

	w := doJSON(t, router, http.MethodGet, "/ctl/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueJobTransitionsToQueued(t *testing.T) {
	h, jobs := newTestHandlers(t)
	router := newTestRouter(h)

	j := jobs.Create(job.CreateParams{Mode: "refactor", SourceFile: "/repo/a.go", Target: "a"})

	w := doJSON(t, router, http.MethodPost, "/ctl/jobs/"+jobIDString(j.ID)+"/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := jobs.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}

func TestDeleteJob(t *testing.T) {
	h, jobs := newTestHandlers(t)
	router := newTestRouter(h)

	j := jobs.Create(job.CreateParams{Mode: "refactor", SourceFile: "/repo/a.go", Target: "a"})

	w := doJSON(t, router, http.MethodDelete, "/ctl/jobs/"+jobIDString(j.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := jobs.Get(j.ID)
	assert.Error(t, err)
}

func jobIDString(id job.ID) string {
	data, _ := json.Marshal(id)
	return string(data)
}

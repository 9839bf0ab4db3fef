package v1

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

func TestAppendLogAppendsToJob(t *testing.T) {
	h, jobs := newTestHandlers(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/ctl/log", h.appendLog)

	j := jobs.Create(job.CreateParams{Mode: "refactor", SourceFile: "/repo/a.go", Target: "a"})

	w := doJSON(t, router, http.MethodPost, "/ctl/log", appendLogRequest{
		JobID: uint64(j.ID), Message: "external note",
	})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := jobs.Get(j.ID)
	require.NoError(t, err)
	require.Len(t, got.LogEvents, 1)
	assert.Equal(t, "external note", got.LogEvents[0].Message)
	assert.Equal(t, "external", got.LogEvents[0].Kind)
}

func TestAppendLogUnknownJobReturns404(t *testing.T) {
	h, _ := newTestHandlers(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/ctl/log", h.appendLog)

	w := doJSON(t, router, http.MethodPost, "/ctl/log", appendLogRequest{JobID: 999, Message: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package v1

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/permission"
)

type fakeSender struct {
	sent []bridge.ToolApprovalResponse
}

func (f *fakeSender) SendToolApproval(ctx context.Context, resp bridge.ToolApprovalResponse) error {
	f.sent = append(f.sent, resp)
	return nil
}

func newPermissionTestRouter(broker *permission.Broker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := &APIHandlers{permissions: broker}
	router := gin.New()
	h.registerPermissionRoutes(router.Group("/ctl/permissions"))
	return router
}

func TestGetPermissionStateReturnsCurrent(t *testing.T) {
	sender := &fakeSender{}
	broker := permission.NewBroker(sender)
	broker.Enqueue(bridge.ToolApprovalRequest{RequestID: "r1", SessionID: "s1", ToolName: "Write"})

	router := newPermissionTestRouter(broker)
	w := doJSON(t, router, http.MethodGet, "/ctl/permissions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "r1")
}

func TestResolvePermissionAdvancesQueue(t *testing.T) {
	sender := &fakeSender{}
	broker := permission.NewBroker(sender)
	broker.Enqueue(bridge.ToolApprovalRequest{RequestID: "r1", SessionID: "s1", ToolName: "Write"})
	broker.Enqueue(bridge.ToolApprovalRequest{RequestID: "r2", SessionID: "s1", ToolName: "Edit"})

	router := newPermissionTestRouter(broker)
	w := doJSON(t, router, http.MethodPost, "/ctl/permissions/s1/resolve", resolvePermissionRequest{
		RequestID: "r1", Decision: "allow",
	})
	require.Equal(t, http.StatusOK, w.Code)

	current, ok := broker.Current("s1")
	require.True(t, ok)
	assert.Equal(t, "r2", current.RequestID)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, bridge.DecisionAllow, sender.sent[0].Decision)
}

func TestResolvePermissionRejectsBadDecision(t *testing.T) {
	broker := permission.NewBroker(&fakeSender{})
	broker.Enqueue(bridge.ToolApprovalRequest{RequestID: "r1", SessionID: "s1", ToolName: "Write"})

	router := newPermissionTestRouter(broker)
	w := doJSON(t, router, http.MethodPost, "/ctl/permissions/s1/resolve", resolvePermissionRequest{
		RequestID: "r1", Decision: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDismissPermissionDeniesRequest(t *testing.T) {
	sender := &fakeSender{}
	broker := permission.NewBroker(sender)
	broker.Enqueue(bridge.ToolApprovalRequest{RequestID: "r1", SessionID: "s1", ToolName: "Write"})

	router := newPermissionTestRouter(broker)
	w := doJSON(t, router, http.MethodPost, "/ctl/permissions/s1/dismiss", dismissPermissionRequest{RequestID: "r1"})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, bridge.DecisionDeny, sender.sent[0].Decision)
}

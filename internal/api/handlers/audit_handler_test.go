package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func TestAuditHandler_List(t *testing.T) {
	db := openTestDB(t)
	audit := services.NewAuditService(db)
	require.NoError(t, audit.Record(services.AuditEntry{UserID: "alice", Action: "revoke", Resource: "session", ResourceID: "s1"}))
	require.NoError(t, audit.Record(services.AuditEntry{UserID: "bob", Action: "create", Resource: "policy", ResourceID: "p1"}))
	require.NoError(t, audit.Record(services.AuditEntry{UserID: "alice", Action: "update", Resource: "policy", ResourceID: "p1"}))

	h := NewAuditHandler(audit)
	r := newTestRouter()
	r.GET("/audit-logs", h.List)

	w := doJSON(r, http.MethodGet, "/audit-logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AuditLog](t, w), 3)

	w = doJSON(r, http.MethodGet, "/audit-logs?resource=policy&user_id=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]models.AuditLog](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "update", logs[0].Action)

	w = doJSON(r, http.MethodGet, "/audit-logs?limit=1", nil)
	assert.Len(t, decode[[]models.AuditLog](t, w), 1)
}

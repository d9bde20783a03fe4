package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/policy"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func setupPolicyRouter(t *testing.T) *gin.Engine {
	db := openTestDB(t)
	service := services.NewPolicyService(db, services.NewNotificationService(db), services.NewAuditService(db), nil)
	h := NewPolicyHandler(service)

	r := newTestRouter()
	policies := r.Group("/policies")
	policies.GET("", h.List)
	policies.POST("", h.Create)
	policies.GET("/conflicts", h.Conflicts)
	policies.POST("/simulate", h.Simulate)
	policies.GET("/:id", h.Get)
	policies.PUT("/:id", h.Update)
	policies.PATCH("/:id/status", h.SetStatus)
	policies.DELETE("/:id", h.Delete)
	return r
}

func usersAPIPolicy(name string, effect policy.Effect, priority int) policy.Policy {
	return policy.Policy{
		Name:      name,
		Type:      effect,
		Scope:     policy.ScopeRole,
		Subjects:  []policy.Subject{{Type: policy.SubjectRole, Identifiers: []string{"engineer"}}},
		Resources: []policy.Resource{{ID: "users-api", Type: "api", Path: "/api/users", Methods: []string{"GET"}}},
		Rules:     []policy.Rule{{Effect: effect, AccessLevels: []policy.AccessLevel{policy.AccessRead}}},
		Priority:  priority,
	}
}

func TestPolicyHandler_CRUD(t *testing.T) {
	r := setupPolicyRouter(t)

	bad := usersAPIPolicy("No subjects", policy.EffectAllow, 1)
	bad.Subjects = nil
	w := doJSON(r, http.MethodPost, "/policies", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "subject")

	w = doJSON(r, http.MethodPost, "/policies", usersAPIPolicy("Engineers read users", policy.EffectAllow, 10))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[policy.Policy](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, policy.StatusDraft, created.Status)

	w = doJSON(r, http.MethodPost, "/policies", usersAPIPolicy("Engineers read users", policy.EffectAllow, 10))
	assert.Equal(t, http.StatusConflict, w.Code)

	update := usersAPIPolicy("Engineers read users", policy.EffectAllow, 30)
	w = doJSON(r, http.MethodPut, "/policies/"+created.ID, update)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[policy.Policy](t, w)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 30, updated.Priority)

	w = doJSON(r, http.MethodGet, "/policies/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/users", decode[policy.Policy](t, w).Resources[0].Path)

	w = doJSON(r, http.MethodGet, "/policies?search=engineers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.AccessPolicy](t, w), 1)

	w = doJSON(r, http.MethodPatch, "/policies/"+created.ID+"/status", gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPatch, "/policies/"+created.ID+"/status", gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, policy.StatusActive, decode[policy.Policy](t, w).Status)

	w = doJSON(r, http.MethodDelete, "/policies/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(r, http.MethodGet, "/policies/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyHandler_ConflictsAndSimulate(t *testing.T) {
	r := setupPolicyRouter(t)

	allow := usersAPIPolicy("Engineers read users", policy.EffectAllow, 10)
	allow.Status = policy.StatusActive
	deny := usersAPIPolicy("Block user reads", policy.EffectDeny, 20)
	deny.Status = policy.StatusActive
	require.Equal(t, http.StatusCreated, doJSON(r, http.MethodPost, "/policies", allow).Code)
	require.Equal(t, http.StatusCreated, doJSON(r, http.MethodPost, "/policies", deny).Code)

	w := doJSON(r, http.MethodGet, "/policies/conflicts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conflicts := decode[struct {
		Conflicts []policy.Conflict `json:"conflicts"`
		Total     int               `json:"total"`
	}](t, w)
	assert.Equal(t, 1, conflicts.Total)
	assert.Len(t, conflicts.Conflicts[0].ConflictingPolicies, 2)

	w = doJSON(r, http.MethodPost, "/policies/simulate", policy.Request{
		UserID:       "alice",
		Roles:        []string{"engineer"},
		Target:       policy.Target{Path: "/api/users", Method: "GET"},
		AccessLevels: []policy.AccessLevel{policy.AccessRead},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[policy.SimulationResult](t, w)
	assert.False(t, result.Granted)
	assert.Equal(t, []policy.AccessLevel{policy.AccessRead}, result.DeniedAccess)
	assert.Len(t, result.AppliedPolicies, 2)
	assert.NotEmpty(t, result.Conflicts)

	w = doJSON(r, http.MethodPost, "/policies/simulate", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

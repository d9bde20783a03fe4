package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/config"
	"github.com/vigil-iam/vigil/backend/internal/events"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

func setupRouter(t *testing.T) (*gin.Engine, *Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	router := gin.New()
	svc, err := Register(router, db, config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour}, Deps{})
	require.NoError(t, err)
	t.Cleanup(svc.Hub.Close)
	return router, svc
}

func call(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r http.Handler, email, password string) string {
	t.Helper()
	w := call(r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Token
}

func setupAdmin(t *testing.T, r http.Handler) string {
	t.Helper()
	w := call(r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "admin@example.com", "password": "correct-horse", "name": "Admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return login(t, r, "admin@example.com", "correct-horse")
}

func TestRegister_Routes(t *testing.T) {
	router, _ := setupRouter(t)

	paths := map[string]bool{}
	for _, r := range router.Routes() {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/health",
		"GET /metrics",
		"POST /api/v1/auth/login",
		"GET /api/v1/sessions",
		"POST /api/v1/sessions/:id/actions",
		"GET /api/v1/anomalies/stats",
		"GET /api/v1/policies/conflicts",
		"POST /api/v1/policies/simulate",
		"PUT /api/v1/roles/:id/permissions",
		"GET /api/v1/users",
		"GET /api/v1/notifications/unread-count",
		"GET /api/v1/audit-logs",
		"DELETE /api/v1/quarantine/:ip",
		"GET /api/v1/health/overview",
		"GET /api/v1/ws/events",
	} {
		assert.True(t, paths[want], "missing route %s", want)
	}
}

func TestRegister_PublicAndProtected(t *testing.T) {
	router, _ := setupRouter(t)

	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/api/v1/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(router, http.MethodGet, "/api/v1/sessions", "", nil).Code)

	w := call(router, http.MethodGet, "/api/v1/auth/setup", "", nil)
	assert.Contains(t, w.Body.String(), `"setup_required":true`)

	token := setupAdmin(t, router)
	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/api/v1/sessions", token, nil).Code)
	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/api/v1/users", token, nil).Code)

	w = call(router, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "late@example.com", "password": "correct-horse", "name": "Late"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegister_AdminOnlyRoutes(t *testing.T) {
	router, svc := setupRouter(t)
	setupAdmin(t, router)

	_, err := svc.Users.Create(services.UserInput{Email: "analyst@example.com", Name: "Analyst", Password: "analyst-pass", Role: models.RoleAnalyst}, "test")
	require.NoError(t, err)
	token := login(t, router, "analyst@example.com", "analyst-pass")

	assert.Equal(t, http.StatusOK, call(router, http.MethodGet, "/api/v1/anomalies", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(router, http.MethodGet, "/api/v1/users", token, nil).Code)
	assert.Equal(t, http.StatusForbidden, call(router, http.MethodGet, "/api/v1/settings", token, nil).Code)

	// Analysts manage quarantines only once their role carries the permission.
	body := gin.H{"ip": "198.51.100.9", "reason": "test"}
	assert.Equal(t, http.StatusForbidden, call(router, http.MethodPost, "/api/v1/quarantine", token, body).Code)

	perm := &models.Permission{Resource: "quarantine", Action: "manage"}
	require.NoError(t, svc.Permissions.CreatePermission(perm, "test"))
	require.NoError(t, svc.Permissions.CreateRole(&models.Role{Name: models.RoleAnalyst, Permissions: []models.Permission{*perm}}, "test"))
	assert.Equal(t, http.StatusCreated, call(router, http.MethodPost, "/api/v1/quarantine", token, body).Code)
}

func TestRegister_EventStream(t *testing.T) {
	router, svc := setupRouter(t)
	token := setupAdmin(t, router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	report := gin.H{
		"session_id": "sess-ws",
		"user_id":    "u-ws",
		"location":   gin.H{"ip": "203.0.113.7", "country": "United States"},
		"login_at":   time.Now().UTC().Add(-time.Minute),
	}
	require.Eventually(t, func() bool { return svc.Hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	w := call(router, http.MethodPost, "/api/v1/sessions", token, report)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.UserSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, events.SessionCreated, evt.Type)
	assert.Equal(t, created.ID, evt.SessionID)
	assert.Equal(t, "u-ws", evt.UserID)
}

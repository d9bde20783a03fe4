package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/models"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// PermissionHandler manages permissions and the roles that group them.
type PermissionHandler struct {
	service *services.PermissionService
}

func NewPermissionHandler(service *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// PermissionRequest accepts conditions as a JSON object rather than a string.
type PermissionRequest struct {
	Resource    string          `json:"resource" binding:"required"`
	Action      string          `json:"action" binding:"required"`
	Conditions  json.RawMessage `json:"conditions"`
	Description *string         `json:"description"`
}

func (r PermissionRequest) toModel() models.Permission {
	p := models.Permission{
		Resource:    strings.TrimSpace(r.Resource),
		Action:      strings.TrimSpace(r.Action),
		Description: r.Description,
	}
	if raw := strings.TrimSpace(string(r.Conditions)); raw != "" && raw != "null" {
		p.Conditions = &raw
	}
	return p
}

func (h *PermissionHandler) ListPermissions(c *gin.Context) {
	perms, err := h.service.ListPermissions(c.Query("resource"))
	if err != nil {
		respondError(c, err, "Failed to list permissions")
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (h *PermissionHandler) GetPermission(c *gin.Context) {
	p, err := h.service.GetPermission(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get permission")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PermissionHandler) CreatePermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := req.toModel()
	if err := h.service.CreatePermission(&p, middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to create permission")
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PermissionHandler) UpdatePermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.service.UpdatePermission(c.Param("id"), req.toModel(), middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update permission")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PermissionHandler) DeletePermission(c *gin.Context) {
	if err := h.service.DeletePermission(c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to delete permission")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Permission deleted"})
}

type CheckPermissionRequest struct {
	Role       string         `json:"role" binding:"required"`
	Resource   string         `json:"resource" binding:"required"`
	Action     string         `json:"action" binding:"required"`
	Attributes map[string]any `json:"attributes"`
}

// Check answers whether a role holds a permission for the given attributes.
func (h *PermissionHandler) Check(c *gin.Context) {
	var req CheckPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	allowed, err := h.service.HasPermission(req.Role, req.Resource, req.Action, req.Attributes)
	if err != nil {
		respondError(c, err, "Failed to check permission")
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// Roles

func (h *PermissionHandler) ListRoles(c *gin.Context) {
	roles, err := h.service.ListRoles()
	if err != nil {
		respondError(c, err, "Failed to list roles")
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (h *PermissionHandler) GetRole(c *gin.Context) {
	role, err := h.service.GetRole(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get role")
		return
	}
	c.JSON(http.StatusOK, role)
}

type RoleRequest struct {
	Name          string   `json:"name" binding:"required"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

func (h *PermissionHandler) CreateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := models.Role{Name: req.Name, Description: req.Description}
	for _, id := range req.PermissionIDs {
		role.Permissions = append(role.Permissions, models.Permission{ID: id})
	}
	if err := h.service.CreateRole(&role, middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to create role")
		return
	}
	created, err := h.service.GetRole(role.ID)
	if err != nil {
		respondError(c, err, "Failed to load role")
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *PermissionHandler) UpdateRole(c *gin.Context) {
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := h.service.UpdateRole(c.Param("id"), req.Name, req.Description, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update role")
		return
	}
	c.JSON(http.StatusOK, role)
}

func (h *PermissionHandler) DeleteRole(c *gin.Context) {
	if err := h.service.DeleteRole(c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to delete role")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Role deleted"})
}

type RolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

func (h *PermissionHandler) SetRolePermissions(c *gin.Context) {
	var req RolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := h.service.SetRolePermissions(c.Param("id"), req.PermissionIDs, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update role permissions")
		return
	}
	c.JSON(http.StatusOK, role)
}

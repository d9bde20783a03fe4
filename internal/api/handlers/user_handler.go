package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

// UserHandler manages console accounts.
type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

// RegisterRoutes mounts the user management endpoints.
func (h *UserHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.ListUsers)
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUser)
	r.PUT("/users/:id", h.UpdateUser)
	r.DELETE("/users/:id", h.DeleteUser)
}

type CreateUserRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Name       string `json:"name" binding:"required"`
	Password   string `json:"password" binding:"required,min=8"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Enabled    *bool  `json:"enabled"`
}

type UpdateUserRequest struct {
	Email      string `json:"email" binding:"omitempty,email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Enabled    *bool  `json:"enabled"`
}

func userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return uint(id), true
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.service.List()
	if err != nil {
		respondError(c, err, "Failed to fetch users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.service.Create(services.UserInput{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		Role:       req.Role,
		Department: req.Department,
		Enabled:    req.Enabled,
	}, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to create user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	user, err := h.service.Get(id)
	if err != nil {
		respondError(c, err, "Failed to fetch user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.service.Update(id, services.UserInput{
		Email:      req.Email,
		Name:       req.Name,
		Password:   req.Password,
		Role:       req.Role,
		Department: req.Department,
		Enabled:    req.Enabled,
	}, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	if id == c.GetUint(middleware.UserIDKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot delete your own account"})
		return
	}
	if err := h.service.Delete(id, middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to delete user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

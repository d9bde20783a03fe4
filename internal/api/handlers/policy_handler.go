package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/policy"
	"github.com/vigil-iam/vigil/backend/internal/services"
)

type PolicyHandler struct {
	service *services.PolicyService
}

func NewPolicyHandler(service *services.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.service.List(services.PolicyFilter{
		Status:   c.Query("status"),
		Type:     c.Query("type"),
		Category: c.Query("category"),
		Search:   strings.TrimSpace(c.Query("search")),
	})
	if err != nil {
		respondError(c, err, "Failed to list policies")
		return
	}
	c.JSON(http.StatusOK, policies)
}

// Get returns the stored record together with its decoded form.
func (h *PolicyHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get policy")
		return
	}
	p, err := rec.ToPolicy()
	if err != nil {
		respondError(c, err, "Failed to decode policy")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PolicyHandler) Create(c *gin.Context) {
	var p policy.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.Create(c.Request.Context(), p, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to create policy")
		return
	}
	out, _ := rec.ToPolicy()
	c.JSON(http.StatusCreated, out)
}

func (h *PolicyHandler) Update(c *gin.Context) {
	var p policy.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.Update(c.Request.Context(), c.Param("id"), p, middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update policy")
		return
	}
	out, _ := rec.ToPolicy()
	c.JSON(http.StatusOK, out)
}

type PolicyStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *PolicyHandler) SetStatus(c *gin.Context) {
	var req PolicyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), policy.Status(req.Status), middleware.Actor(c))
	if err != nil {
		respondError(c, err, "Failed to update policy status")
		return
	}
	out, _ := rec.ToPolicy()
	c.JSON(http.StatusOK, out)
}

func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id"), middleware.Actor(c)); err != nil {
		respondError(c, err, "Failed to delete policy")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Policy deleted"})
}

// Conflicts lists conflicts among the policies currently in effect.
func (h *PolicyHandler) Conflicts(c *gin.Context) {
	conflicts, err := h.service.Conflicts()
	if err != nil {
		respondError(c, err, "Failed to detect conflicts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "total": len(conflicts)})
}

func (h *PolicyHandler) Simulate(c *gin.Context) {
	var req policy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.Simulate(req)
	if err != nil {
		respondError(c, err, "Failed to simulate request")
		return
	}
	c.JSON(http.StatusOK, result)
}

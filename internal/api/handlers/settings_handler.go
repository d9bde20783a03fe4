package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/vigil-iam/vigil/backend/internal/api/middleware"
	"github.com/vigil-iam/vigil/backend/internal/models"
)

type SettingsHandler struct {
	DB *gorm.DB
}

func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{DB: db}
}

// GetSettings returns all settings as a key/value map.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	var settings []models.Setting
	q := h.DB.Order("key")
	if category := c.Query("category"); category != "" {
		q = q.Where("category = ?", category)
	}
	if err := q.Find(&settings).Error; err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to fetch settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settings"})
		return
	}

	settingsMap := make(map[string]string, len(settings))
	for _, s := range settings {
		settingsMap[s.Key] = s.Value
	}
	c.JSON(http.StatusOK, settingsMap)
}

type UpdateSettingRequest struct {
	Key      string `json:"key" binding:"required"`
	Value    string `json:"value"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// checkValue rejects values that do not parse as their declared type.
func checkValue(typ, value string) error {
	switch typ {
	case "", "string":
		return nil
	case "bool":
		_, err := strconv.ParseBool(value)
		return err
	case "int":
		_, err := strconv.Atoi(value)
		return err
	case "json":
		if !json.Valid([]byte(value)) {
			return errors.New("invalid JSON")
		}
		return nil
	}
	return fmt.Errorf("unknown setting type %q", typ)
}

// UpdateSetting creates or updates a setting.
func (h *SettingsHandler) UpdateSetting(c *gin.Context) {
	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkValue(req.Type, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid value for %s: %v", req.Key, err)})
		return
	}

	setting := models.Setting{Key: req.Key, Value: req.Value}
	if req.Category != "" {
		setting.Category = req.Category
	}
	if req.Type != "" {
		setting.Type = req.Type
	}

	if err := h.DB.Where(models.Setting{Key: req.Key}).Assign(setting).FirstOrCreate(&setting).Error; err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("failed to save setting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save setting"})
		return
	}
	c.JSON(http.StatusOK, setting)
}

func (h *SettingsHandler) DeleteSetting(c *gin.Context) {
	res := h.DB.Where("key = ?", c.Param("key")).Delete(&models.Setting{})
	if res.Error != nil {
		middleware.GetRequestLogger(c).WithError(res.Error).Error("failed to delete setting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete setting"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Setting not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Setting deleted"})
}

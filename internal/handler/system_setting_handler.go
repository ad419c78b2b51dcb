package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yearbookpress/internal/service"
)

// GetSystemSettings 返回系统设置
func (a *API) GetSystemSettings(c *gin.Context) {
	settings, err := a.system.GetSettings()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"site_name":          settings.SiteName,
		"notify_webhook_url": settings.NotifyWebhookURL,
	})
}

// UpdateSystemSettings 保存系统设置
func (a *API) UpdateSystemSettings(c *gin.Context) {
	var payload struct {
		SiteName         string `json:"site_name"`
		NotifyWebhookURL string `json:"notify_webhook_url"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	settings, err := a.system.UpdateSettings(service.SystemSettingsInput{
		SiteName:         payload.SiteName,
		NotifyWebhookURL: payload.NotifyWebhookURL,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存系统设置失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            "系统设置已保存",
		"site_name":          settings.SiteName,
		"notify_webhook_url": settings.NotifyWebhookURL,
	})
}

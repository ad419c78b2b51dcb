package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yearbookpress/internal/service"
)

// DeletePDFBatch 一次性删除某个 PDF 批次的全部页面和文件。
// 这是破坏性操作，要求重新输入密码确认。
func (a *API) DeletePDFBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	if batchID == "" {
		respondError(c, http.StatusBadRequest, "批次 ID 不能为空")
		return
	}

	var payload struct {
		Password string `json:"password"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	if !reauthenticate(c, payload.Password) {
		respondError(c, http.StatusForbidden, "密码确认失败")
		return
	}

	if err := a.ingest.DeleteBatch(batchID); err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "批次不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除批次失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "批次已删除"})
}

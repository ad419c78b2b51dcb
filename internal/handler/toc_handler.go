package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/service"
)

// ListTOC 返回目录条目；编辑视图带草稿，查看视图只含已发布条目。
func (a *API) ListTOC(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	includeDrafts := c.Query("include_drafts") == "true"
	entries, err := a.toc.List(yearbookID, includeDrafts)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询目录失败")
		return
	}

	items := make([]gin.H, 0, len(entries))
	for i := range entries {
		items = append(items, tocPayload(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"entries": items})
}

// CreateTOCEntry 新建目录条目。已发布图片册的新增条目会先落为草稿。
func (a *API) CreateTOCEntry(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	yearbook, err := a.yearbooks.Get(yearbookID)
	if err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "查询纪念册失败")
		return
	}

	var payload struct {
		Title       string `json:"title"`
		PageNumber  int    `json:"page_number"`
		Description string `json:"description"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	entry, err := a.toc.Create(yearbookID, service.TOCInput{
		Title:       payload.Title,
		PageNumber:  payload.PageNumber,
		Description: payload.Description,
		Status:      a.drafts.RouteStatus(yearbook, db.PageTypeContent),
	})
	if err != nil {
		respondTOCError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":          "目录条目已创建",
		"entry":            tocPayload(entry),
		"hasUnsavedDrafts": entry.Status == db.PageStatusDraft,
	})
}

// UpdateTOCEntry 修改目录条目，条目的草稿状态不随更新改变。
func (a *API) UpdateTOCEntry(c *gin.Context) {
	entryID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "目录条目 ID 不合法")
		return
	}

	var payload struct {
		Title       string `json:"title"`
		PageNumber  int    `json:"page_number"`
		Description string `json:"description"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	entry, err := a.toc.Update(entryID, service.TOCInput{
		Title:       payload.Title,
		PageNumber:  payload.PageNumber,
		Description: payload.Description,
	})
	if err != nil {
		respondTOCError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "目录条目已更新", "entry": tocPayload(entry)})
}

// DeleteTOCEntry 删除目录条目
func (a *API) DeleteTOCEntry(c *gin.Context) {
	entryID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "目录条目 ID 不合法")
		return
	}

	if err := a.toc.Delete(entryID); err != nil {
		respondTOCError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "目录条目已删除"})
}

func respondTOCError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTOCEntryNotFound):
		respondError(c, http.StatusNotFound, "目录条目不存在")
	case errors.Is(err, service.ErrTOCTitleMissing):
		respondError(c, http.StatusBadRequest, "目录标题不能为空")
	case errors.Is(err, service.ErrTOCPageOutOfRange):
		respondError(c, http.StatusBadRequest, "目录指向的页码超出正文范围")
	default:
		respondError(c, http.StatusInternalServerError, "目录操作失败")
	}
}

func tocPayload(entry *db.TOCEntry) gin.H {
	return gin.H{
		"id":          entry.ID,
		"title":       entry.Title,
		"page_number": entry.PageNumber,
		"description": entry.Description,
		"status":      entry.Status,
	}
}

package handler

import (
	"errors"
	"image"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/ordering"
	"github.com/yearbookpress/internal/pdf"
	"github.com/yearbookpress/internal/service"
)

// UploadPage 处理页面上传。同一个入口同时接受单张图片和整本 PDF：
// 图片走缩放 + 缩略图管线后入库，PDF 交给摄取管线逐页栅格化。
func (a *API) UploadPage(c *gin.Context) {
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

	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "未找到上传的文件")
		return
	}

	pageType := c.DefaultPostForm("page_type", db.PageTypeContent)
	switch pageType {
	case db.PageTypeContent, db.PageTypeFrontCover, db.PageTypeBackCover:
	default:
		respondError(c, http.StatusBadRequest, "页面类型不合法")
		return
	}
	title := strings.TrimSpace(c.PostForm("title"))

	if isPDFUpload(file.Filename, file.Header.Get("Content-Type")) {
		a.ingestPDF(c, yearbook, file, pageType, title)
		return
	}

	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		respondError(c, http.StatusBadRequest, "只允许上传图片或 PDF 文件")
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "读取上传文件失败")
		return
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		respondError(c, http.StatusBadRequest, "图片解析失败，请上传 JPEG 或 PNG")
		return
	}

	imageURL, thumbURL, err := a.ingest.SavePageImage(img, yearbook.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存页面图片失败")
		return
	}

	if pageType != db.PageTypeContent {
		cover, previousURLs, err := a.pages.ReplaceCover(yearbook.ID, pageType, title, imageURL, thumbURL, "")
		if err != nil {
			a.ingest.RemoveFiles([]string{imageURL, thumbURL})
			switch {
			case errors.Is(err, service.ErrCoverSlotInvalid), errors.Is(err, service.ErrPageImageMissing):
				respondError(c, http.StatusBadRequest, "封面参数不合法")
			default:
				respondError(c, http.StatusInternalServerError, "保存封面失败")
			}
			return
		}
		// 封面替换后旧文件立即失效
		a.ingest.RemoveFiles(previousURLs)
		c.JSON(http.StatusCreated, gin.H{"message": "封面已更新", "page": a.pagePayload(cover)})
		return
	}

	status := a.drafts.RouteStatus(yearbook, db.PageTypeContent)
	page, err := a.pages.CreateContent(service.PageInput{
		YearbookID: yearbook.ID,
		Title:      title,
		ImageURL:   imageURL,
		ThumbURL:   thumbURL,
		Status:     status,
		PageNumber: parsePositiveInt(c.PostForm("page_number"), 0),
	})
	if err != nil {
		a.ingest.RemoveFiles([]string{imageURL, thumbURL})
		switch {
		case errors.Is(err, service.ErrPageImageMissing):
			respondError(c, http.StatusBadRequest, "页面图片不能为空")
		case errors.Is(err, ordering.ErrInvalidPosition):
			respondError(c, http.StatusBadRequest, "页码超出范围")
		default:
			respondError(c, http.StatusInternalServerError, "创建页面失败")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":          "页面已创建",
		"page":             a.pagePayload(page),
		"hasUnsavedDrafts": status == db.PageStatusDraft,
	})
}

// ingestPDF 把上传的 PDF 落盘为临时文件后交给摄取管线，临时文件由管线负责清理。
func (a *API) ingestPDF(c *gin.Context, yearbook *db.Yearbook, file *multipart.FileHeader, pageType, title string) {
	if file.Size > pdf.MaxPDFBytes {
		respondError(c, http.StatusBadRequest, "PDF 不能超过 50MB")
		return
	}

	tmpDir := filepath.Join(a.uploadDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		respondError(c, http.StatusInternalServerError, "创建临时目录失败")
		return
	}
	tmpPath := filepath.Join(tmpDir, uuid.New().String()+".pdf")
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		respondError(c, http.StatusInternalServerError, "保存上传文件失败")
		return
	}

	result, err := a.ingest.Ingest(yearbook.ID, tmpPath, pageType, title)
	if err != nil {
		switch {
		case errors.Is(err, pdf.ErrPDFTooLarge):
			respondError(c, http.StatusBadRequest, "PDF 不能超过 50MB")
		case errors.Is(err, pdf.ErrMixedContent):
			respondError(c, http.StatusConflict, "已存在正文页面，请先删除后再上传 PDF")
		case errors.Is(err, pdf.ErrInvalidPDF):
			respondError(c, http.StatusUnprocessableEntity, "PDF 解析失败")
		default:
			respondError(c, http.StatusInternalServerError, "PDF 处理失败")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":            "PDF 已导入",
		"batchId":            result.BatchID,
		"pagesCreated":       result.PagesCreated,
		"coversAutoAssigned": result.CoversAutoAssigned,
	})
}

// ListPages 返回编辑器视图：封面、正文序列（含草稿叠加）以及未保存标记。
func (a *API) ListPages(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	if _, err := a.yearbooks.Get(yearbookID); err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "查询纪念册失败")
		return
	}

	front, back, err := a.pages.Covers(yearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询封面失败")
		return
	}

	content, err := a.pages.ListContent(yearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询页面失败")
		return
	}

	dirty, err := a.drafts.HasUnsavedDrafts(yearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询草稿状态失败")
		return
	}

	pages := make([]gin.H, 0, len(content))
	for i := range content {
		pages = append(pages, a.pagePayload(&content[i]))
	}

	payload := gin.H{
		"pages":            pages,
		"hasUnsavedDrafts": dirty,
	}
	if front != nil {
		payload["frontCover"] = a.pagePayload(front)
	}
	if back != nil {
		payload["backCover"] = a.pagePayload(back)
	}
	c.JSON(http.StatusOK, payload)
}

// DeletePage 删除页面。封面删除始终即时生效；已发布图片册的正文删除会被
// 暂存为草稿删除，其余情况硬删并收拢页码。
func (a *API) DeletePage(c *gin.Context) {
	pageID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "页面 ID 不合法")
		return
	}

	page, err := a.pages.Get(pageID)
	if err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "页面不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "查询页面失败")
		return
	}

	yearbook, err := a.yearbooks.Get(page.YearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询纪念册失败")
		return
	}

	if page.IsCover() {
		imageURL, err := a.pages.DeleteCover(yearbook.ID, page.PageType)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "删除封面失败")
			return
		}
		a.ingest.RemoveFiles([]string{imageURL, page.ThumbURL})
		c.JSON(http.StatusOK, gin.H{"message": "封面已删除"})
		return
	}

	staged := a.drafts.RouteStatus(yearbook, page.PageType) == db.PageStatusDraft &&
		page.Status == db.PageStatusPublished
	if staged {
		if err := a.pages.MarkDraftDeleted(page.ID); err != nil {
			respondError(c, http.StatusInternalServerError, "暂存删除失败")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":          "页面已标记删除，保存草稿后生效",
			"staged":           true,
			"hasUnsavedDrafts": true,
		})
		return
	}

	if err := a.pages.Delete(page.ID); err != nil {
		respondError(c, http.StatusInternalServerError, "删除页面失败")
		return
	}
	a.ingest.RemoveFiles([]string{page.ImageURL, page.ThumbURL})
	c.JSON(http.StatusOK, gin.H{"message": "页面已删除", "staged": false})
}

// ReorderPage 把正文页移动到指定页码，其余页码随之收拢。
func (a *API) ReorderPage(c *gin.Context) {
	pageID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "页面 ID 不合法")
		return
	}

	var payload struct {
		PageNumber int `json:"page_number"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	if err := a.pages.Reorder(pageID, payload.PageNumber); err != nil {
		switch {
		case errors.Is(err, service.ErrPageNotFound):
			respondError(c, http.StatusNotFound, "页面不存在")
		case errors.Is(err, ordering.ErrInvalidPosition):
			respondError(c, http.StatusBadRequest, "页码超出范围")
		case errors.Is(err, ordering.ErrNotReorderable):
			respondError(c, http.StatusBadRequest, "封面不参与排序")
		default:
			respondError(c, http.StatusInternalServerError, "排序失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "页面已重新排序"})
}

// SwapPages 交换两个正文页的页码，其余页面不受影响。
func (a *API) SwapPages(c *gin.Context) {
	var payload struct {
		PageAID uint `json:"page_a_id"`
		PageBID uint `json:"page_b_id"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	if err := a.pages.Swap(payload.PageAID, payload.PageBID); err != nil {
		switch {
		case errors.Is(err, service.ErrPageNotFound):
			respondError(c, http.StatusNotFound, "页面不存在")
		case errors.Is(err, service.ErrPageMismatch):
			respondError(c, http.StatusBadRequest, "两个页面不属于同一本纪念册")
		case errors.Is(err, ordering.ErrNotReorderable):
			respondError(c, http.StatusBadRequest, "封面不参与排序")
		default:
			respondError(c, http.StatusInternalServerError, "交换失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "页面已交换"})
}

// ClearPages 清空整本纪念册的所有页面，常用于切换上传模式前。
// 破坏性操作，要求重新输入密码确认。
func (a *API) ClearPages(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	if _, err := a.yearbooks.Get(yearbookID); err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "查询纪念册失败")
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

	urls, err := a.pages.DeleteAll(yearbookID)
	a.ingest.RemoveFiles(urls)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "清空页面失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "已清空所有页面", "removed": len(urls)})
}

// pagePayload 把页面行序列化为 API 响应，图片地址统一换成带时效的访问令牌。
func (a *API) pagePayload(page *db.YearbookPage) gin.H {
	return gin.H{
		"id":          page.ID,
		"page_type":   page.PageType,
		"page_number": page.PageNumber,
		"title":       page.Title,
		"status":      page.Status,
		"image_url":   a.signedPageURL(page.ImageURL),
		"thumb_url":   a.signedPageURL(page.ThumbURL),
		"batch_id":    page.PDFBatchID,
	}
}

func isPDFUpload(filename, contentType string) bool {
	if contentType == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

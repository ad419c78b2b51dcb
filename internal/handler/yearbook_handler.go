package handler

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/service"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// CreateYearbook 创建一本尚未初始化的纪念册
func (a *API) CreateYearbook(c *gin.Context) {
	var payload struct {
		SchoolID uint   `json:"school_id"`
		Year     int    `json:"year"`
		Title    string `json:"title"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	yearbook, err := a.yearbooks.Create(service.YearbookInput{
		SchoolID: payload.SchoolID,
		Year:     payload.Year,
		Title:    payload.Title,
	})
	if err != nil {
		if errors.Is(err, service.ErrYearbookTitleMissing) {
			respondError(c, http.StatusBadRequest, "标题不能为空")
			return
		}
		respondError(c, http.StatusInternalServerError, "创建纪念册失败")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "纪念册已创建", "yearbook": yearbookPayload(yearbook)})
}

// ListYearbooks 按学校列出纪念册
func (a *API) ListYearbooks(c *gin.Context) {
	schoolID := parsePositiveInt(c.Query("school_id"), 0)
	if schoolID == 0 {
		respondError(c, http.StatusBadRequest, "缺少 school_id 参数")
		return
	}

	yearbooks, err := a.yearbooks.ListBySchool(uint(schoolID))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询纪念册失败")
		return
	}

	items := make([]gin.H, 0, len(yearbooks))
	for i := range yearbooks {
		items = append(items, yearbookPayload(&yearbooks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"yearbooks": items})
}

// GetYearbook 返回单本纪念册详情
func (a *API) GetYearbook(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{"yearbook": yearbookPayload(yearbook)})
}

// SetupYearbook 应用初始化向导的选择
func (a *API) SetupYearbook(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	var payload struct {
		Orientation string `json:"orientation"`
		UploadType  string `json:"upload_type"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	yearbook, err := a.yearbooks.Setup(yearbookID, service.SetupInput{
		Orientation: payload.Orientation,
		UploadType:  payload.UploadType,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrYearbookNotFound):
			respondError(c, http.StatusNotFound, "纪念册不存在")
		case errors.Is(err, service.ErrOrientationInvalid):
			respondError(c, http.StatusBadRequest, "版式只能是 portrait 或 landscape")
		case errors.Is(err, service.ErrUploadTypeInvalid):
			respondError(c, http.StatusBadRequest, "上传模式只能是 image 或 pdf")
		case errors.Is(err, service.ErrUploadTypeLocked):
			respondError(c, http.StatusConflict, "已存在页面，上传模式不能再修改")
		default:
			respondError(c, http.StatusInternalServerError, "初始化失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "初始化完成", "yearbook": yearbookPayload(yearbook)})
}

// YearbookSummary 返回编辑台的统计卡片数据
func (a *API) YearbookSummary(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	summary, err := a.yearbooks.Summarize(yearbookID)
	if err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "统计失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contentPages": summary.ContentPages,
		"draftPages":   summary.DraftPages,
		"tocEntries":   summary.TOCEntries,
		"hasCovers":    summary.HasCovers,
		"isPublished":  summary.IsPublished,
	})
}

// PublishYearbook 把纪念册上线。封面与定价都会在服务端重新校验。
func (a *API) PublishYearbook(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	yearbook, err := a.drafts.Publish(yearbookID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrYearbookNotFound):
			respondError(c, http.StatusNotFound, "纪念册不存在")
		case errors.Is(err, service.ErrCoversRequired):
			respondError(c, http.StatusUnprocessableEntity, "发布前必须同时设置封面和封底")
		case errors.Is(err, service.ErrPriceRequired):
			respondError(c, http.StatusUnprocessableEntity, "发布前必须设置区间内的价格")
		default:
			respondError(c, http.StatusInternalServerError, "发布失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "纪念册已发布", "yearbook": yearbookPayload(yearbook)})
}

// SaveDrafts 把全部草稿改动落为正式内容
func (a *API) SaveDrafts(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	result, err := a.drafts.SaveDrafts(yearbookID)
	if err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		// 部分提交是允许的：已提交的项保持提交，剩余的留待重试
		respondError(c, http.StatusInternalServerError, "保存草稿时出错，未完成的改动可重试")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "草稿已保存",
		"pagesPublished": result.PagesPublished,
		"pagesRemoved":   result.PagesRemoved,
		"tocPublished":   result.TOCPublished,
	})
}

// DiscardDrafts 放弃全部草稿改动并清理暂存的图片文件
func (a *API) DiscardDrafts(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	result, err := a.drafts.DiscardDrafts(yearbookID)
	if err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "放弃草稿失败")
		return
	}

	a.ingest.RemoveFiles(result.RemovedImageURLs)

	c.JSON(http.StatusOK, gin.H{
		"message":       "草稿已放弃",
		"pagesDropped":  result.PagesDropped,
		"pagesRestored": result.PagesRestored,
		"tocDropped":    result.TOCDropped,
	})
}

// TouchDraft 是自动保存心跳，只刷新时间戳，不保证持久化任何草稿内容。
func (a *API) TouchDraft(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	if err := a.drafts.TouchDraft(yearbookID); err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "自动保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"touchedAt": time.Now()})
}

// SetPrice 修改定价，由价格治理服务执行区间与冷却校验
func (a *API) SetPrice(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	var payload struct {
		Price string `json:"price"`
	}
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	yearbook, err := a.prices.SetPrice(yearbookID, payload.Price, currentUserID(c))
	if err != nil {
		var cooldown *service.CooldownError
		switch {
		case errors.Is(err, service.ErrYearbookNotFound):
			respondError(c, http.StatusNotFound, "纪念册不存在")
		case errors.Is(err, service.ErrPriceInvalid):
			respondError(c, http.StatusBadRequest, "价格格式不合法")
		case errors.Is(err, service.ErrPriceOutOfRange):
			respondError(c, http.StatusBadRequest, "价格必须在 1.99 到 49.99 之间")
		case errors.As(err, &cooldown):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "距上次涨价不足 30 天",
				"nextAllowed": cooldown.NextAllowed,
			})
		default:
			respondError(c, http.StatusInternalServerError, "修改价格失败")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "价格已更新", "yearbook": yearbookPayload(yearbook)})
}

// PriceHistory 返回价格审计流水，最新的在前
func (a *API) PriceHistory(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	entries, err := a.prices.History(yearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询价格记录失败")
		return
	}

	items := make([]gin.H, 0, len(entries))
	for i := range entries {
		items = append(items, gin.H{
			"oldPrice":  entries[i].OldPrice,
			"newPrice":  entries[i].NewPrice,
			"changedBy": entries[i].User.Username,
			"changedAt": entries[i].CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": items})
}

// CanIncreasePrice 告诉前端涨价按钮是否可用；服务端修改时仍会再次校验。
func (a *API) CanIncreasePrice(c *gin.Context) {
	yearbookID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "纪念册 ID 不合法")
		return
	}

	allowed, nextAllowed, err := a.prices.CanIncrease(yearbookID)
	if err != nil {
		if errors.Is(err, service.ErrYearbookNotFound) {
			respondError(c, http.StatusNotFound, "纪念册不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "查询冷却状态失败")
		return
	}

	payload := gin.H{"canIncrease": allowed}
	if nextAllowed != nil {
		payload["nextAllowed"] = nextAllowed
	}
	c.JSON(http.StatusOK, payload)
}

// ViewYearbook 是购买者视角：只输出已发布内容，目录描述渲染为安全 HTML。
func (a *API) ViewYearbook(c *gin.Context) {
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
	if !yearbook.IsPublished {
		respondError(c, http.StatusNotFound, "纪念册尚未发布")
		return
	}

	content, err := a.pages.ListPublishedContent(yearbookID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询页面失败")
		return
	}

	toc, err := a.toc.List(yearbookID, false)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "查询目录失败")
		return
	}

	pages := make([]gin.H, 0, len(content))
	for i := range content {
		pages = append(pages, gin.H{
			"page_number": content[i].PageNumber,
			"title":       content[i].Title,
			"image_url":   a.signedPageURL(content[i].ImageURL),
			"thumb_url":   a.signedPageURL(content[i].ThumbURL),
		})
	}

	tocItems := make([]gin.H, 0, len(toc))
	for i := range toc {
		description, err := renderMarkdown(toc[i].Description)
		if err != nil {
			description = ""
		}
		tocItems = append(tocItems, gin.H{
			"title":       toc[i].Title,
			"page_number": toc[i].PageNumber,
			"description": description,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"yearbook": gin.H{
			"title":         yearbook.Title,
			"year":          yearbook.Year,
			"orientation":   yearbook.Orientation,
			"price":         yearbook.Price,
			"frontCoverUrl": a.signedPageURL(yearbook.FrontCoverURL),
			"backCoverUrl":  a.signedPageURL(yearbook.BackCoverURL),
		},
		"pages": pages,
		"toc":   tocItems,
	})
}

func yearbookPayload(yearbook *db.Yearbook) gin.H {
	return gin.H{
		"id":             yearbook.ID,
		"school_id":      yearbook.SchoolID,
		"year":           yearbook.Year,
		"title":          yearbook.Title,
		"orientation":    yearbook.Orientation,
		"upload_type":    yearbook.UploadType,
		"is_initialized": yearbook.IsInitialized,
		"is_published":   yearbook.IsPublished,
		"published_at":   yearbook.PublishedAt,
		"price":          yearbook.Price,
	}
}

func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

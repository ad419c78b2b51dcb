package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// signedPageURL 给页面文件签发一次性访问令牌。真实文件路径不出现在响应
// 里，过期后需要重新拉取列表换新令牌。
func (a *API) signedPageURL(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	token := uuid.New().String()
	a.serveTokens.Set(token, imageURL, cache.DefaultExpiration)
	return "/pages/view/" + token
}

// ViewPage 用访问令牌换取页面图片内容。
func (a *API) ViewPage(c *gin.Context) {
	token := c.Param("token")
	raw, ok := a.serveTokens.Get(token)
	if !ok {
		respondError(c, http.StatusNotFound, "访问令牌不存在或已过期")
		return
	}

	imageURL, _ := raw.(string)
	path, ok := a.ingest.FileForURL(imageURL)
	if !ok {
		respondError(c, http.StatusNotFound, "文件不存在")
		return
	}
	c.File(path)
}

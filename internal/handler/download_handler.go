package handler

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"repo-chat-go/pkg/log"
)

// allowedDownloadHosts 是下载代理允许访问的主机白名单。
// 只代理 GitHub 的归档与对象地址，防止被当作任意 URL 抓取器。
var allowedDownloadHosts = map[string]bool{
	"github.com":                    true,
	"api.github.com":                true,
	"codeload.github.com":           true,
	"objects.githubusercontent.com": true,
}

// DownloadHandler 代理下载 GitHub 归档，绕开浏览器端的跨域限制。
type DownloadHandler struct {
	client *http.Client
}

// NewDownloadHandler 创建一个新的 DownloadHandler 实例。
func NewDownloadHandler() *DownloadHandler {
	return &DownloadHandler{
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Download 是处理下载代理请求的 Gin 处理函数。
func (h *DownloadHandler) Download(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url 参数不能为空"})
		return
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || !allowedDownloadHosts[parsed.Hostname()] {
		log.Warnf("[DownloadHandler] 拒绝代理非白名单地址: %s", rawURL)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的下载地址"})
		return
	}
	log.Infof("[DownloadHandler] 开始代理下载: %s", rawURL)

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "构造下载请求失败"})
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		log.Errorf("[DownloadHandler] 代理下载失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "下载失败"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("[DownloadHandler] 上游返回非 200 状态: %s", resp.Status)
		c.JSON(http.StatusBadGateway, gin.H{"error": "下载失败"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/zip"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", `attachment; filename="repo.zip"`)
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.Warnf("[DownloadHandler] 写出下载内容中断: %v", err)
	}
}

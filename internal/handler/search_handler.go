package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"repo-chat-go/internal/service"
	"repo-chat-go/pkg/log"
)

// SearchHandler 结构体定义了向量检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// VectorSearch 是处理向量检索请求的 Gin 处理函数。
func (h *SearchHandler) VectorSearch(c *gin.Context) {
	namespace := c.Query("namespace")
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到检索请求, namespace: %s, query: %s", namespace, query)

	if namespace == "" || query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: namespace 或 query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "5"))
	if err != nil || topK <= 0 {
		topK = 5
	}

	results, err := h.searchService.VectorSearch(c.Request.Context(), namespace, query, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 检索服务返回错误, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	log.Infof("[SearchHandler] 检索成功, namespace: %s, 返回 %d 条结果", namespace, len(results))
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}

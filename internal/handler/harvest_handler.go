// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"

	"repo-chat-go/internal/harvester"
	"repo-chat-go/internal/service"
	"repo-chat-go/pkg/log"
)

// repoURLPattern 匹配 GitHub 仓库主页地址，捕获 owner 与 name。
var repoURLPattern = regexp.MustCompile(`^https?://github\.com/([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)

// HarvestHandler 结构体定义了仓库采集相关的处理器。
type HarvestHandler struct {
	harvestService service.HarvestService
}

// NewHarvestHandler 创建一个新的 HarvestHandler 实例。
func NewHarvestHandler(harvestService service.HarvestService) *HarvestHandler {
	return &HarvestHandler{
		harvestService: harvestService,
	}
}

// harvestRequest 是采集请求体：仓库地址或 owner/name 二选一。
type harvestRequest struct {
	URL   string `json:"url"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// HarvestRepo 是处理仓库采集请求的 Gin 处理函数。
func (h *HarvestHandler) HarvestRepo(c *gin.Context) {
	var req harvestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[HarvestHandler] 采集请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}

	owner, name := req.Owner, req.Name
	if req.URL != "" {
		m := repoURLPattern.FindStringSubmatch(req.URL)
		if m == nil {
			log.Warnf("[HarvestHandler] 非法的仓库地址: %s", req.URL)
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 GitHub 仓库地址"})
			return
		}
		owner, name = m[1], m[2]
	}
	if owner == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少仓库 owner 或 name"})
		return
	}
	log.Infof("[HarvestHandler] 收到采集请求, repo: %s/%s", owner, name)

	result, err := h.harvestService.HarvestRepo(c.Request.Context(), owner, name)
	if err != nil {
		if errors.Is(err, harvester.ErrNotFound) {
			// 仓库不存在对用户来说不是故障，返回空结果与提示。
			log.Warnf("[HarvestHandler] 仓库不存在: %s/%s", owner, name)
			c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{}, "message": "仓库不存在"})
			return
		}
		log.Errorf("[HarvestHandler] 采集服务返回错误: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "采集失败"})
		return
	}

	log.Infof("[HarvestHandler] 采集成功, repo: %s/%s, 文档数: %d", owner, name, result.Record.DocumentCount)
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}

// ListRecords 返回最近的采集记录。
func (h *HarvestHandler) ListRecords(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	records, err := h.harvestService.ListRecords(limit)
	if err != nil {
		log.Errorf("[HarvestHandler] 查询采集记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询采集记录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": records, "message": "success"})
}

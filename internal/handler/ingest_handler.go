package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"repo-chat-go/internal/service"
	"repo-chat-go/pkg/log"
)

// IngestHandler 结构体定义了手动触发摄取的处理器。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
	}
}

// ingestRequest 是手动摄取的请求体。
type ingestRequest struct {
	Namespace string `json:"namespace"`
}

// RunIngest 是处理手动摄取请求的 Gin 处理函数。
func (h *IngestHandler) RunIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing namespace"})
		return
	}
	log.Infof("[IngestHandler] 收到手动摄取请求, namespace: %s", req.Namespace)

	stdout, err := h.ingestService.Run(c.Request.Context(), req.Namespace)
	if err != nil {
		log.Errorf("[IngestHandler] 摄取失败, namespace: %s, err: %v", req.Namespace, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Error running ingest",
			"stdout":  "",
			"stderr":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Ingest ran successfully",
		"stdout":  stdout,
		"stderr":  "",
	})
}

package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"repo-chat-go/internal/model"
	"repo-chat-go/internal/service"
	"repo-chat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理仓库问答请求，包括阻塞接口与 WebSocket 流式接口。
type ChatHandler struct {
	chatService service.ChatService
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// chatRequest 是阻塞式问答的请求体。
type chatRequest struct {
	Namespace string      `json:"namespace"`
	Question  string      `json:"question"`
	History   [][2]string `json:"history"`
}

// Chat 是处理阻塞式问答请求的 Gin 处理函数。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 问答请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question 不能为空"})
		return
	}
	if req.Namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "namespace 不能为空"})
		return
	}
	log.Infof("[ChatHandler] 收到问答请求, namespace: %s", req.Namespace)

	answer, err := h.chatService.Chat(c.Request.Context(), req.Namespace, model.ChatRequest{
		Question: req.Question,
		History:  req.History,
	})
	if err != nil {
		log.Errorf("[ChatHandler] 问答服务返回错误: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI服务暂时不可用，请稍后重试"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":            answer.Text,
		"sourceDocuments": answer.SourceDocuments,
	})
}

// HandleWS 处理一个传入的 WebSocket 连接，每条文本消息视为一个问题。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	namespace := c.Query("namespace")
	if namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "namespace 不能为空"})
		return
	}
	conversationID := c.Query("conversationId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	if conversationID == "" {
		conversationID = fmt.Sprintf("%d-%p", time.Now().UnixNano(), conn)
	}
	log.Infof("WebSocket 连接已建立, namespace: %s, conversation: %s", namespace, conversationID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// JSON 停止指令: {"type":"stop"}
		if len(message) > 0 && message[0] == '{' {
			var ctrl map[string]interface{}
			if err := json.Unmarshal(message, &ctrl); err == nil {
				if t, ok := ctrl["type"].(string); ok && t == "stop" {
					h.stopFlags.Store(sessionKey(conn), true)
					resp := map[string]interface{}{
						"type":      "stop",
						"timestamp": time.Now().UnixMilli(),
					}
					b, _ := json.Marshal(resp)
					_ = conn.WriteMessage(websocket.TextMessage, b)
					continue
				}
			}
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(sessionKey(conn))
			return ok && v.(bool)
		}
		// 清除旧标志
		h.stopFlags.Delete(sessionKey(conn))

		err = h.chatService.StreamResponse(c.Request.Context(), namespace, conversationID, string(message), conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			break
		}
	}
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}

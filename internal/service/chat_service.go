package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"repo-chat-go/internal/chain"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/repository"
	"repo-chat-go/pkg/log"
)

// ChatService 定义了仓库问答操作的接口。
type ChatService interface {
	// Chat 以阻塞方式回答一个问题，历史由请求方携带。
	Chat(ctx context.Context, namespace string, req model.ChatRequest) (*model.ChatAnswer, error)
	// StreamResponse 通过 WebSocket 流式回答，历史按会话 ID 存取于 Redis。
	StreamResponse(ctx context.Context, namespace, conversationID, question string, ws *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	qaChain          *chain.Chain
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(qaChain *chain.Chain, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		qaChain:          qaChain,
		conversationRepo: conversationRepo,
	}
}

// Chat 执行一次阻塞式问答。
func (s *chatService) Chat(ctx context.Context, namespace string, req model.ChatRequest) (*model.ChatAnswer, error) {
	log.Infof("[ChatService] 收到问答请求, namespace: %s, 历史轮次: %d", namespace, len(req.History))
	return s.qaChain.Answer(ctx, namespace, req.Question, req.History)
}

// StreamResponse 协调检索问答链并流式传输答案。
func (s *chatService) StreamResponse(ctx context.Context, namespace, conversationID, question string, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 加载会话历史
	messages, err := s.conversationRepo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		log.Errorf("[ChatService] 加载会话历史失败, conversation: %s, err: %v", conversationID, err)
		messages = []model.ChatMessage{}
	}
	history := historyPairs(messages)

	// 2. 执行问答链，分块下发
	interceptor := &wsWriterInterceptor{conn: ws, shouldStop: shouldStop}
	answer, err := s.qaChain.AnswerStream(ctx, namespace, question, history, interceptor)
	if err != nil {
		return err
	}

	// 3. 下发来源文档与完成通知
	sendSourceDocuments(ws, answer.SourceDocuments)
	sendCompletion(ws)

	// 4. 将本轮对话保存到 Redis
	if answer.Text != "" {
		// 使用后台上下文：即使原始请求被取消，也保存已生成的答案
		if err := s.appendTurn(context.Background(), conversationID, question, answer.Text); err != nil {
			log.Errorf("[ChatService] 保存会话历史失败, conversation: %s, err: %v", conversationID, err)
		}
	}
	return nil
}

// historyPairs 将角色消息序列折叠成 [提问, 回答] 轮次。
func historyPairs(messages []model.ChatMessage) [][2]string {
	var pairs [][2]string
	var pendingQuestion string
	hasQuestion := false
	for _, m := range messages {
		switch m.Role {
		case "user":
			pendingQuestion = m.Content
			hasQuestion = true
		case "assistant":
			if hasQuestion {
				pairs = append(pairs, [2]string{pendingQuestion, m.Content})
				hasQuestion = false
			}
		}
	}
	return pairs
}

// appendTurn 将一轮问答追加到会话历史。
func (s *chatService) appendTurn(ctx context.Context, conversationID, question, answer string) error {
	history, err := s.conversationRepo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return s.conversationRepo.UpdateConversationHistory(ctx, conversationID, history)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，将分块包装为 JSON 后下发。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendSourceDocuments 下发本轮答案引用的来源文档。
func sendSourceDocuments(ws *websocket.Conn, docs []model.SourceDocument) {
	payload := map[string]interface{}{
		"type":            "sourceDocuments",
		"sourceDocuments": docs,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[ChatService] 序列化来源文档失败: %v", err)
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON。
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

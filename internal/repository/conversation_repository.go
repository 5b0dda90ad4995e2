package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"repo-chat-go/internal/model"
)

// 对话历史的保留策略：最多 20 条消息，7 天过期。
const (
	maxHistoryMessages = 20
	historyTTL         = 7 * 24 * time.Hour
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 历史按会话 ID 维度存储，WebSocket 连接各自持有一个会话。
type ConversationRepository interface {
	GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error)
	UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error
	ClearConversationHistory(ctx context.Context, conversationID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetConversationHistory 从 Redis 获取对话历史记录。
func (r *redisConversationRepository) GetConversationHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(conversationID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil // 尚无历史
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// UpdateConversationHistory 在 Redis 中更新对话历史记录。
func (r *redisConversationRepository) UpdateConversationHistory(ctx context.Context, conversationID string, messages []model.ChatMessage) error {
	// 保留最近 20 条
	if len(messages) > maxHistoryMessages {
		messages = messages[len(messages)-maxHistoryMessages:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(conversationID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// ClearConversationHistory 清空指定会话的历史记录。
func (r *redisConversationRepository) ClearConversationHistory(ctx context.Context, conversationID string) error {
	return r.redisClient.Del(ctx, conversationKey(conversationID)).Err()
}

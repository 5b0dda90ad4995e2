package model

import "time"

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest 是 POST /chat 的请求体。
// History 是按时间排序的 [question, answer] 二元组序列。
type ChatRequest struct {
	Question string      `json:"question"`
	History  [][2]string `json:"history"`
}

// SourceDocument 是一条返回给前端的引用记录。
type SourceDocument struct {
	Source      string  `json:"source"`
	PageContent string  `json:"pageContent"`
	Score       float64 `json:"score"`
}

// ChatAnswer 是检索问答链的输出。
type ChatAnswer struct {
	Text            string           `json:"text"`
	SourceDocuments []SourceDocument `json:"sourceDocuments"`
}

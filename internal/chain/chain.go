// Package chain 实现了基于检索的对话问答链：
// 先将跟进问题结合历史压缩为独立问题，再检索相关分块并生成带引用的答案。
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/llm"
	"repo-chat-go/pkg/log"
)

// ErrUpstream 表示 LLM 或检索后端不可用，调用方应将其映射为 5xx。
var ErrUpstream = errors.New("chain upstream failed")

const condensePrompt = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question.

Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

const qaPrompt = `You are a helpful AI assistant thats been given the codebase and information about a github repository.
Use the following pieces of context to answer the question at the end.

{context}

Question: {question}
Helpful answer in markdown:`

// Retriever 根据查询向量检索指定命名空间下最相关的文档分块。
type Retriever interface {
	Retrieve(ctx context.Context, namespace, query string, topK int) ([]model.SourceDocument, error)
}

// Chain 封装了问答链的依赖。
type Chain struct {
	llmClient llm.Client
	retriever Retriever
	topK      int
}

// New 创建一个新的 Chain 实例。
func New(llmClient llm.Client, retriever Retriever, topK int) *Chain {
	if topK <= 0 {
		topK = 5
	}
	return &Chain{
		llmClient: llmClient,
		retriever: retriever,
		topK:      topK,
	}
}

// Answer 以阻塞方式执行完整的问答链，返回答案文本与引用的来源分块。
func (c *Chain) Answer(ctx context.Context, namespace, question string, history [][2]string) (*model.ChatAnswer, error) {
	standalone, docs, err := c.prepare(ctx, namespace, question, history)
	if err != nil {
		return nil, err
	}

	text, err := c.llmClient.ChatCompletion(ctx, qaMessages(standalone, docs), nil)
	if err != nil {
		log.Errorf("[Chain] 生成答案失败: %v", err)
		return nil, fmt.Errorf("生成答案失败: %v: %w", err, ErrUpstream)
	}

	return &model.ChatAnswer{
		Text:            strings.TrimSpace(text),
		SourceDocuments: docs,
	}, nil
}

// AnswerStream 以流式方式执行问答链，将答案分块写入 writer。
// 返回值中的 Text 是拼接后的完整答案，供调用方写入对话历史。
func (c *Chain) AnswerStream(ctx context.Context, namespace, question string, history [][2]string, writer llm.MessageWriter) (*model.ChatAnswer, error) {
	standalone, docs, err := c.prepare(ctx, namespace, question, history)
	if err != nil {
		return nil, err
	}

	capture := &captureWriter{inner: writer}
	if err := c.llmClient.StreamChatMessages(ctx, qaMessages(standalone, docs), nil, capture); err != nil {
		log.Errorf("[Chain] 流式生成答案失败: %v", err)
		return nil, fmt.Errorf("流式生成答案失败: %v: %w", err, ErrUpstream)
	}

	return &model.ChatAnswer{
		Text:            strings.TrimSpace(capture.buf.String()),
		SourceDocuments: docs,
	}, nil
}

// prepare 执行链的前两步：问题压缩与相关分块检索。
func (c *Chain) prepare(ctx context.Context, namespace, question string, history [][2]string) (string, []model.SourceDocument, error) {
	standalone, err := c.condense(ctx, question, history)
	if err != nil {
		return "", nil, err
	}

	docs, err := c.retriever.Retrieve(ctx, namespace, standalone, c.topK)
	if err != nil {
		log.Errorf("[Chain] 检索相关分块失败, namespace: %s, err: %v", namespace, err)
		return "", nil, fmt.Errorf("检索相关分块失败: %v: %w", err, ErrUpstream)
	}
	log.Infof("[Chain] 检索完成, namespace: %s, 命中分块数: %d", namespace, len(docs))
	return standalone, docs, nil
}

// condense 将跟进问题结合历史压缩为独立问题。
// 无历史时跳过压缩，问题原样进入检索，省一次 LLM 往返。
func (c *Chain) condense(ctx context.Context, question string, history [][2]string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	prompt := strings.NewReplacer(
		"{chat_history}", formatHistory(history),
		"{question}", question,
	).Replace(condensePrompt)

	standalone, err := c.llmClient.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil {
		log.Errorf("[Chain] 压缩独立问题失败: %v", err)
		return "", fmt.Errorf("压缩独立问题失败: %v: %w", err, ErrUpstream)
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return question, nil
	}
	log.Infof("[Chain] 问题压缩完成: %q -> %q", question, standalone)
	return standalone, nil
}

// qaMessages 用检索到的分块拼装最终的问答提示。
func qaMessages(question string, docs []model.SourceDocument) []llm.Message {
	contexts := make([]string, 0, len(docs))
	for _, doc := range docs {
		contexts = append(contexts, doc.PageContent)
	}

	prompt := strings.NewReplacer(
		"{context}", strings.Join(contexts, "\n\n"),
		"{question}", question,
	).Replace(qaPrompt)

	return []llm.Message{{Role: "user", Content: prompt}}
}

// formatHistory 将 [提问, 回答] 轮次渲染为对话文本。
func formatHistory(history [][2]string) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("Human: ")
		sb.WriteString(turn[0])
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn[1])
		sb.WriteString("\n")
	}
	return sb.String()
}

// captureWriter 在透传流式分块的同时累计完整文本。
type captureWriter struct {
	inner llm.MessageWriter
	buf   strings.Builder
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.buf.Write(data)
	return w.inner.WriteMessage(messageType, data)
}

package chain

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/llm"
	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeLLM 按调用顺序返回预置的补全结果，并记录收到的提示。
type fakeLLM struct {
	completions  []string
	prompts      []string
	streamChunks []string
	err          error
}

func (f *fakeLLM) ChatCompletion(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	if f.err != nil {
		return "", f.err
	}
	if len(f.completions) == 0 {
		return "", errors.New("no completion queued")
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.streamChunks {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return err
		}
	}
	return nil
}

// fakeRetriever 返回固定的检索结果，并记录收到的查询。
type fakeRetriever struct {
	docs    []model.SourceDocument
	queries []string
	topKs   []int
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, namespace, query string, topK int) ([]model.SourceDocument, error) {
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	return f.docs, f.err
}

// collectWriter 收集写入的流式分块。
type collectWriter struct {
	chunks []string
}

func (w *collectWriter) WriteMessage(messageType int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func TestAnswer_EmptyHistorySkipsCondensation(t *testing.T) {
	mockLLM := &fakeLLM{completions: []string{"The repo is a web crawler."}}
	retriever := &fakeRetriever{docs: []model.SourceDocument{
		{Source: "main.go", PageContent: "package main", Score: 0.9},
	}}
	c := New(mockLLM, retriever, 5)

	answer, err := c.Answer(context.Background(), "octocat/Hello-World", "What does this repo do?", nil)
	require.NoError(t, err)

	// 无历史时不做问题压缩：只有一次 LLM 调用，检索用原始问题
	require.Len(t, mockLLM.prompts, 1)
	assert.Contains(t, mockLLM.prompts[0], "Helpful answer in markdown:")
	require.Equal(t, []string{"What does this repo do?"}, retriever.queries)
	assert.Equal(t, []int{5}, retriever.topKs)

	assert.Equal(t, "The repo is a web crawler.", answer.Text)
	require.Len(t, answer.SourceDocuments, 1)
	assert.Equal(t, "main.go", answer.SourceDocuments[0].Source)
}

func TestAnswer_HistoryTriggersOneCondensation(t *testing.T) {
	mockLLM := &fakeLLM{completions: []string{
		"What architecture does the Hello-World repo use?",
		"It uses a layered architecture.",
	}}
	retriever := &fakeRetriever{}
	c := New(mockLLM, retriever, 3)

	history := [][2]string{{"What does this repo do?", "It is a greeting service."}}
	answer, err := c.Answer(context.Background(), "octocat/Hello-World", "And its architecture?", history)
	require.NoError(t, err)

	// 恰好两次 LLM 调用：一次压缩、一次生成
	require.Len(t, mockLLM.prompts, 2)
	assert.Contains(t, mockLLM.prompts[0], "Standalone question:")
	assert.Contains(t, mockLLM.prompts[0], "Human: What does this repo do?")
	assert.Contains(t, mockLLM.prompts[0], "Assistant: It is a greeting service.")
	assert.Contains(t, mockLLM.prompts[0], "Follow Up Input: And its architecture?")

	// 检索使用压缩后的独立问题
	require.Equal(t, []string{"What architecture does the Hello-World repo use?"}, retriever.queries)
	assert.Equal(t, "It uses a layered architecture.", answer.Text)
}

func TestAnswer_ContextEmbedsRetrievedChunks(t *testing.T) {
	mockLLM := &fakeLLM{completions: []string{"ok"}}
	retriever := &fakeRetriever{docs: []model.SourceDocument{
		{Source: "repo_info", PageContent: "chunk-one"},
		{Source: "README.md", PageContent: "chunk-two"},
	}}
	c := New(mockLLM, retriever, 5)

	_, err := c.Answer(context.Background(), "octocat/Hello-World", "q", nil)
	require.NoError(t, err)

	require.Len(t, mockLLM.prompts, 1)
	assert.Contains(t, mockLLM.prompts[0], "chunk-one\n\nchunk-two")
	assert.Contains(t, mockLLM.prompts[0], "Question: q")
}

func TestAnswer_RetrieverFailureIsUpstream(t *testing.T) {
	mockLLM := &fakeLLM{completions: []string{"unused"}}
	retriever := &fakeRetriever{err: errors.New("es unavailable")}
	c := New(mockLLM, retriever, 5)

	_, err := c.Answer(context.Background(), "octocat/Hello-World", "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestAnswer_LLMFailureIsUpstream(t *testing.T) {
	mockLLM := &fakeLLM{err: errors.New("429 too many requests")}
	retriever := &fakeRetriever{}
	c := New(mockLLM, retriever, 5)

	_, err := c.Answer(context.Background(), "octocat/Hello-World", "q", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestAnswerStream_AccumulatesFullText(t *testing.T) {
	mockLLM := &fakeLLM{streamChunks: []string{"It ", "is ", "a ", "CLI."}}
	retriever := &fakeRetriever{docs: []model.SourceDocument{
		{Source: "main.go", PageContent: "package main"},
	}}
	c := New(mockLLM, retriever, 5)

	writer := &collectWriter{}
	answer, err := c.AnswerStream(context.Background(), "octocat/Hello-World", "q", nil, writer)
	require.NoError(t, err)

	assert.Equal(t, []string{"It ", "is ", "a ", "CLI."}, writer.chunks)
	assert.Equal(t, "It is a CLI.", answer.Text)
	require.Len(t, answer.SourceDocuments, 1)
}

func TestCondense_BlankResultFallsBackToQuestion(t *testing.T) {
	mockLLM := &fakeLLM{completions: []string{"   ", "answer"}}
	retriever := &fakeRetriever{}
	c := New(mockLLM, retriever, 5)

	history := [][2]string{{"q1", "a1"}}
	_, err := c.Answer(context.Background(), "octocat/Hello-World", "original question", history)
	require.NoError(t, err)
	require.Equal(t, []string{"original question"}, retriever.queries)
}

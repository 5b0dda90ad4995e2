package service

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/internal/config"
	"repo-chat-go/internal/model"
	"repo-chat-go/internal/pipeline"
	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

func TestHistoryPairs(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
		{Role: "assistant", Content: "a2"},
	}
	assert.Equal(t, [][2]string{{"q1", "a1"}, {"q2", "a2"}}, historyPairs(messages))
}

func TestHistoryPairs_DanglingQuestionDropped(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	}
	assert.Equal(t, [][2]string{{"q1", "a1"}}, historyPairs(messages))
}

func TestHistoryPairs_Empty(t *testing.T) {
	assert.Empty(t, historyPairs(nil))
}

func TestNamespaceDir(t *testing.T) {
	assert.Equal(t, "octocat__Hello-World", namespaceDir("octocat/Hello-World"))
}

// fakeRecordRepo 记录被查询的命名空间。
type fakeRecordRepo struct {
	queried string
	record  *model.HarvestRecord
	err     error
}

func (f *fakeRecordRepo) Create(record *model.HarvestRecord) error { return nil }
func (f *fakeRecordRepo) UpdateStatus(recordID uint, status int, errorMessage string) error {
	return nil
}
func (f *fakeRecordRepo) MarkCompleted(recordID uint, documentCount int, archiveObject string) error {
	return nil
}
func (f *fakeRecordRepo) FindLatestByNamespace(namespace string) (*model.HarvestRecord, error) {
	f.queried = namespace
	return f.record, f.err
}
func (f *fakeRecordRepo) ListRecent(limit int) ([]model.HarvestRecord, error) { return nil, nil }

func TestIngestRun_LooksUpLatestHarvestRecord(t *testing.T) {
	recordRepo := &fakeRecordRepo{record: &model.HarvestRecord{
		ID:        7,
		Namespace: "octocat/Hello-World",
		Status:    model.HarvestStatusCompleted,
	}}
	processor := pipeline.NewProcessor(nil,
		config.ElasticsearchConfig{},
		config.EmbeddingConfig{},
		config.IngestConfig{ChunkSize: 1000, ChunkOverlap: 200},
		nil,
	)
	svc := NewIngestService(processor, recordRepo, config.IngestConfig{DocsDir: t.TempDir()})

	// 文档目录不存在时摄取失败，但采集记录已按命名空间查询
	_, err := svc.Run(context.Background(), "octocat/Hello-World")
	require.Error(t, err)
	assert.Equal(t, "octocat/Hello-World", recordRepo.queried)
}

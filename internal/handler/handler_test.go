package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/internal/harvester"
	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeHarvestService struct {
	owner, name string
	result      *model.HarvestResultDTO
	records     []model.HarvestRecord
	err         error
}

func (f *fakeHarvestService) HarvestRepo(ctx context.Context, owner, name string) (*model.HarvestResultDTO, error) {
	f.owner, f.name = owner, name
	return f.result, f.err
}

func (f *fakeHarvestService) ListRecords(limit int) ([]model.HarvestRecord, error) {
	return f.records, f.err
}

type fakeChatService struct {
	namespace string
	answer    *model.ChatAnswer
	err       error
}

func (f *fakeChatService) Chat(ctx context.Context, namespace string, req model.ChatRequest) (*model.ChatAnswer, error) {
	f.namespace = namespace
	return f.answer, f.err
}

func (f *fakeChatService) StreamResponse(ctx context.Context, namespace, conversationID, question string, ws *websocket.Conn, shouldStop func() bool) error {
	return f.err
}

type fakeIngestService struct {
	namespace string
	stdout    string
	err       error
}

func (f *fakeIngestService) Run(ctx context.Context, namespace string) (string, error) {
	f.namespace = namespace
	return f.stdout, f.err
}

type fakeSearchService struct {
	results []model.SearchResponseDTO
	err     error
}

func (f *fakeSearchService) VectorSearch(ctx context.Context, namespace, query string, topK int) ([]model.SearchResponseDTO, error) {
	return f.results, f.err
}

func (f *fakeSearchService) Retrieve(ctx context.Context, namespace, query string, topK int) ([]model.SourceDocument, error) {
	return nil, f.err
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST(path, handler)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, handler gin.HandlerFunc, route, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.GET(route, handler)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHarvestRepo_ParsesRepoURL(t *testing.T) {
	svc := &fakeHarvestService{result: &model.HarvestResultDTO{
		Record: model.HarvestRecord{Namespace: "octocat/Hello-World", DocumentCount: 12},
	}}
	h := NewHarvestHandler(svc)

	w := postJSON(t, h.HarvestRepo, "/api/v1/repos", gin.H{"url": "https://github.com/octocat/Hello-World"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "octocat", svc.owner)
	assert.Equal(t, "Hello-World", svc.name)
}

func TestHarvestRepo_StripsGitSuffix(t *testing.T) {
	svc := &fakeHarvestService{result: &model.HarvestResultDTO{}}
	h := NewHarvestHandler(svc)

	w := postJSON(t, h.HarvestRepo, "/api/v1/repos", gin.H{"url": "https://github.com/octocat/Hello-World.git"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello-World", svc.name)
}

func TestHarvestRepo_RejectsInvalidURL(t *testing.T) {
	h := NewHarvestHandler(&fakeHarvestService{})

	for _, url := range []string{
		"https://gitlab.com/octocat/Hello-World",
		"https://github.com/octocat",
		"not-a-url",
		"https://github.com/octocat/Hello-World/issues",
	} {
		w := postJSON(t, h.HarvestRepo, "/api/v1/repos", gin.H{"url": url})
		assert.Equal(t, http.StatusBadRequest, w.Code, url)
	}
}

func TestHarvestRepo_NotFoundReturnsEmptyResult(t *testing.T) {
	svc := &fakeHarvestService{err: fmt.Errorf("octocat/nope: %w", harvester.ErrNotFound)}
	h := NewHarvestHandler(svc)

	w := postJSON(t, h.HarvestRepo, "/api/v1/repos", gin.H{"owner": "octocat", "name": "nope"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code    int                    `json:"code"`
		Data    map[string]interface{} `json:"data"`
		Message string                 `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
	assert.Equal(t, "仓库不存在", resp.Message)
}

func TestHarvestRepo_UpstreamFailureIs502(t *testing.T) {
	svc := &fakeHarvestService{err: fmt.Errorf("boom: %w", harvester.ErrUpstream)}
	h := NewHarvestHandler(svc)

	w := postJSON(t, h.HarvestRepo, "/api/v1/repos", gin.H{"owner": "octocat", "name": "Hello-World"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChat_EmptyQuestionIs400(t *testing.T) {
	h := NewChatHandler(&fakeChatService{})

	w := postJSON(t, h.Chat, "/api/v1/chat", gin.H{"namespace": "octocat/Hello-World", "question": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_MissingNamespaceIs400(t *testing.T) {
	h := NewChatHandler(&fakeChatService{})

	w := postJSON(t, h.Chat, "/api/v1/chat", gin.H{"question": "what is this?"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_ReturnsAnswerWithSources(t *testing.T) {
	svc := &fakeChatService{answer: &model.ChatAnswer{
		Text: "It is a greeting service.",
		SourceDocuments: []model.SourceDocument{
			{Source: "repo_info", PageContent: "{}", Score: 0.8},
		},
	}}
	h := NewChatHandler(svc)

	w := postJSON(t, h.Chat, "/api/v1/chat", gin.H{
		"namespace": "octocat/Hello-World",
		"question":  "What does this repo do?",
		"history":   [][2]string{{"hi", "hello"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "octocat/Hello-World", svc.namespace)

	var resp struct {
		Text            string                 `json:"text"`
		SourceDocuments []model.SourceDocument `json:"sourceDocuments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "It is a greeting service.", resp.Text)
	require.Len(t, resp.SourceDocuments, 1)
	assert.Equal(t, "repo_info", resp.SourceDocuments[0].Source)
}

func TestRunIngest_MissingNamespaceIs400(t *testing.T) {
	h := NewIngestHandler(&fakeIngestService{})

	w := postJSON(t, h.RunIngest, "/ingest", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunIngest_Success(t *testing.T) {
	svc := &fakeIngestService{stdout: "ingested namespace octocat/Hello-World"}
	h := NewIngestHandler(svc)

	w := postJSON(t, h.RunIngest, "/ingest", gin.H{"namespace": "octocat/Hello-World"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "octocat/Hello-World", svc.namespace)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Ingest ran successfully", resp["message"])
	assert.NotEmpty(t, resp["stdout"])
	assert.Empty(t, resp["stderr"])
}

func TestDownload_RejectsNonWhitelistedHosts(t *testing.T) {
	h := NewDownloadHandler()

	for _, target := range []string{
		"/download?url=https://evil.example.com/archive.zip",
		"/download?url=ftp://codeload.github.com/x",
		"/download",
	} {
		w := getPath(t, h.Download, "/download", target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestVectorSearch_MissingParamsIs400(t *testing.T) {
	h := NewSearchHandler(&fakeSearchService{})

	w := getPath(t, h.VectorSearch, "/api/v1/search", "/api/v1/search?query=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = getPath(t, h.VectorSearch, "/api/v1/search", "/api/v1/search?namespace=octocat/Hello-World")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVectorSearch_Success(t *testing.T) {
	svc := &fakeSearchService{results: []model.SearchResponseDTO{
		{Namespace: "octocat/Hello-World", Source: "main.go", ChunkID: 0, TextContent: "package main", Score: 0.9},
	}}
	h := NewSearchHandler(svc)

	w := getPath(t, h.VectorSearch, "/api/v1/search", "/api/v1/search?namespace=octocat%2FHello-World&query=main")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "main.go")
}

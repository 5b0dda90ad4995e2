package harvester

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	gh "github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/githubclient"
	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeAPI 是 RepoAPI 的内存实现，按字段注入失败。
type fakeAPI struct {
	repo       *gh.Repository
	repoErr    error
	commits    []*gh.RepositoryCommit
	commitsErr error
	branches   []*gh.Branch
	issues     []*gh.Issue
	issuesErr  error
	pulls      []*gh.PullRequest
	forks      []*gh.Repository
	events     []*gh.Event
	jsonByURL  map[string]json.RawMessage
	jsonErr    error
	archive    []byte
	archiveErr error
}

func (f *fakeAPI) GetRepository(ctx context.Context, owner, name string) (*gh.Repository, error) {
	return f.repo, f.repoErr
}
func (f *fakeAPI) ListCommits(ctx context.Context, owner, name string) ([]*gh.RepositoryCommit, error) {
	return f.commits, f.commitsErr
}
func (f *fakeAPI) ListBranches(ctx context.Context, owner, name string) ([]*gh.Branch, error) {
	return f.branches, nil
}
func (f *fakeAPI) ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error) {
	return f.issues, f.issuesErr
}
func (f *fakeAPI) ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error) {
	return f.pulls, nil
}
func (f *fakeAPI) ListForks(ctx context.Context, owner, name string) ([]*gh.Repository, error) {
	return f.forks, nil
}
func (f *fakeAPI) ListEvents(ctx context.Context, owner, name string) ([]*gh.Event, error) {
	return f.events, nil
}
func (f *fakeAPI) GetJSON(ctx context.Context, url string) (json.RawMessage, error) {
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	return f.jsonByURL[url], nil
}
func (f *fakeAPI) DownloadZipball(ctx context.Context, owner, name, ref string) ([]byte, error) {
	return f.archive, f.archiveErr
}

// buildZip 构造一个内存 zip 归档。
func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newHealthyAPI(t *testing.T) *fakeAPI {
	t.Helper()
	return &fakeAPI{
		repo: &gh.Repository{
			Name:          gh.Ptr("Hello-World"),
			DefaultBranch: gh.Ptr("master"),
			ForksCount:    gh.Ptr(5),
			LanguagesURL:  gh.Ptr("https://api.github.com/repos/octocat/Hello-World/languages"),
		},
		commits: []*gh.RepositoryCommit{{SHA: gh.Ptr("abc123")}},
		issues:  []*gh.Issue{},
		jsonByURL: map[string]json.RawMessage{
			"https://api.github.com/repos/octocat/Hello-World/languages": json.RawMessage(`{"Go":1024}`),
		},
		archive: buildZip(t, map[string]string{
			"Hello-World-master/main.go":           "package main\n",
			"Hello-World-master/README.md":         "# Hello\n",
			"Hello-World-master/assets/logo.png":   "\x89PNG",
			"Hello-World-master/package-lock.json": "{}",
			"Hello-World-master/docs/guide.md":     "guide\n",
		}),
	}
}

func documentSources(docs []model.Document) []string {
	sources := make([]string, 0, len(docs))
	for _, d := range docs {
		sources = append(sources, d.Source)
	}
	return sources
}

func TestHarvest_Success(t *testing.T) {
	h := New(newHealthyAPI(t))

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "octocat/Hello-World", bundle.FullName())
	assert.Equal(t, "master", bundle.DefaultBranch)

	sources := documentSources(bundle.Documents)
	// 文件文档：展平后的基础文件名，图片与锁文件被过滤
	assert.Contains(t, sources, "main.go")
	assert.Contains(t, sources, "README.md")
	assert.Contains(t, sources, "guide.md")
	assert.NotContains(t, sources, "logo.png")
	assert.NotContains(t, sources, "package-lock.json")

	// 元数据文档：固定来源标识
	for _, want := range []string{"repo_info", "commits", "forks", "data", "events", "branches", "issues", "pulls"} {
		assert.Contains(t, sources, want, want)
	}
}

func TestHarvest_MetadataContent(t *testing.T) {
	h := New(newHealthyAPI(t))

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)

	bySource := map[string]model.Document{}
	for _, d := range bundle.Documents {
		bySource[d.Source] = d
	}

	// repo_info 包含序列化后的仓库元数据
	assert.Contains(t, bySource["repo_info"].Content, `"forks_count": 5`)
	// commits 非空
	assert.Contains(t, bySource["commits"].Content, "abc123")
	// 无 issue 的仓库得到空集合而不是缺失文档
	assert.Equal(t, "[]", bySource["issues"].Content)
	// 展开的字段出现在 data 文档中
	assert.Contains(t, bySource["data"].Content, "languages_url")
	assert.Equal(t, json.RawMessage(`{"Go":1024}`), bundle.Data["languages_url"])
}

func TestHarvest_PerFieldDataDocuments(t *testing.T) {
	h := New(newHealthyAPI(t))

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)

	bySource := map[string]model.Document{}
	for _, d := range bundle.Documents {
		bySource[d.Source] = d
	}

	// 除聚合的 data 文档外，每个展开字段单独成一份 <key>_data 文档
	require.Contains(t, bySource, "languages_url_data")
	assert.Contains(t, bySource["languages_url_data"].Content, `"Go": 1024`)
	assert.Contains(t, bySource, "data")
}

func TestHarvest_NotFound(t *testing.T) {
	api := &fakeAPI{repoErr: githubclient.ErrNotFound}
	h := New(api)

	bundle, err := h.Harvest(context.Background(), "octocat", "no-such-repo")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, bundle)
}

func TestHarvest_UpstreamError(t *testing.T) {
	api := &fakeAPI{repoErr: errors.New("503 service unavailable")}
	h := New(api)

	_, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHarvest_PartialSubFetchFailure(t *testing.T) {
	api := newHealthyAPI(t)
	api.issuesErr = errors.New("issues are disabled for this repo")
	h := New(api)

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)

	bySource := map[string]model.Document{}
	for _, d := range bundle.Documents {
		bySource[d.Source] = d
	}
	// 失败的集合记为空值，其余集合不受影响
	assert.Equal(t, "null", bySource["issues"].Content)
	assert.Contains(t, bySource["commits"].Content, "abc123")
}

func TestHarvest_DereferenceFailureIsTolerated(t *testing.T) {
	api := newHealthyAPI(t)
	api.jsonErr = errors.New("network unreachable")
	h := New(api)

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)
	require.Contains(t, bundle.Data, "languages_url")
	assert.Nil(t, bundle.Data["languages_url"])
}

func TestHarvest_ArchiveFailureKeepsMetadata(t *testing.T) {
	api := newHealthyAPI(t)
	api.archiveErr = errors.New("zipball unavailable")
	h := New(api)

	bundle, err := h.Harvest(context.Background(), "octocat", "Hello-World")
	require.NoError(t, err)

	sources := documentSources(bundle.Documents)
	assert.NotContains(t, sources, "main.go")
	assert.Contains(t, sources, "repo_info")
}

func TestBuildArchive(t *testing.T) {
	docs := []model.Document{
		{Source: "main.go", Content: "package main\n"},
		{Source: "repo_info", Content: "{}"},
	}
	data, err := BuildArchive(docs)
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, reader.File, 2)
	assert.Equal(t, "main.go.txt", reader.File[0].Name)
	assert.Equal(t, "repo_info.txt", reader.File[1].Name)
}

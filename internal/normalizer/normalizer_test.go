package normalizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/internal/model"
	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

func TestNormalize(t *testing.T) {
	doc, err := Normalize("src/pkg/main.go", []byte("package main\n"))
	require.NoError(t, err)
	assert.Equal(t, "main.go", doc.Source)
	assert.Equal(t, "package main\n", doc.Content)
}

func TestNormalize_StripsTextSuffix(t *testing.T) {
	doc, err := Normalize("docs/commits.txt", []byte("[]"))
	require.NoError(t, err)
	assert.Equal(t, "commits", doc.Source)
}

func TestNormalize_InvalidUTF8(t *testing.T) {
	_, err := Normalize("blob.bin", []byte{0xff, 0xfe, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotText)
}

func TestNormalizeJSON(t *testing.T) {
	doc, err := NormalizeJSON("repo_info", map[string]interface{}{"forks_count": 5})
	require.NoError(t, err)
	assert.Equal(t, "repo_info", doc.Source)
	assert.Equal(t, "{\n  \"forks_count\": 5\n}", doc.Content)
}

func TestSkip(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"logo.png", true},
		{"assets/icon.SVG", true},
		{"photo.jpeg", true},
		{"repo-main/package-lock.json", true},
		{"package.json", false},
		{"main.go", false},
		{"README.md", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Skip(tc.name), tc.name)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "repo_info.txt"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "main.go.txt"), []byte("package main"), 0o644))
	// 图片与非文本文件应被跳过
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 0x50}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{0xff, 0xfe}, 0o644))

	docs, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	sources := []string{docs[0].Source, docs[1].Source}
	assert.Contains(t, sources, "repo_info")
	assert.Contains(t, sources, "main.go")
}

func TestWriteDocuments_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	doc, err := Normalize("cmd/server/main.go", []byte("package main\n"))
	require.NoError(t, err)
	meta, err := NormalizeJSON("issues", []interface{}{})
	require.NoError(t, err)

	require.NoError(t, WriteDocuments(dir, []model.Document{doc, meta}))

	loaded, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	bySource := map[string]model.Document{}
	for _, d := range loaded {
		bySource[d.Source] = d
	}
	assert.Equal(t, "package main\n", bySource["main.go"].Content)
	assert.Equal(t, "[]", bySource["issues"].Content)
}

func TestWriteDocuments_DuplicateSourcesOverwrite(t *testing.T) {
	dir := t.TempDir()

	first, err := Normalize("a/util.go", []byte("package a\n"))
	require.NoError(t, err)
	second, err := Normalize("b/util.go", []byte("package b\n"))
	require.NoError(t, err)

	require.NoError(t, WriteDocuments(dir, []model.Document{first, second}))

	loaded, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "package b\n", loaded[0].Content)
}

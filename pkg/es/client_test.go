package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-chat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// captureTransport 截获发往 Elasticsearch 的请求体并返回固定成功响应。
type captureTransport struct {
	body string
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		t.body = string(raw)
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(`{"deleted":0}`)),
	}, nil
}

func TestDeleteByNamespace_EscapesNamespace(t *testing.T) {
	transport := &captureTransport{}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://localhost:9200"},
		Transport: transport,
	})
	require.NoError(t, err)
	ESClient = client

	namespace := `oct"ocat/Hello-World`
	require.NoError(t, DeleteByNamespace(context.Background(), "repo_knowledge", namespace))

	// 查询体是合法 JSON，namespace 中的引号被转义而不是破坏查询结构
	var body struct {
		Query struct {
			Term map[string]string `json:"term"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(transport.body), &body))
	assert.Equal(t, namespace, body.Query.Term["namespace"])
}

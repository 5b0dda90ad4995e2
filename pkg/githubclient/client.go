// Package githubclient 封装了 go-github 客户端，提供采集仓库所需的只读 API。
package githubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"repo-chat-go/internal/config"
	"repo-chat-go/pkg/log"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// defaultTimeout 是单次 HTTP 请求的超时时间。
	defaultTimeout = 30 * time.Second

	// proactiveRate 是主动限速速率（约 1.2 req/s，低于认证配额 5000/h）。
	proactiveRate = 1.2

	// perPage 是列表类 API 的单页大小。采集只取首页，与产物规模上限对齐。
	perPage = 100

	// maxAttempts 与 retryBaseDelay 控制瞬时故障的有界重试。
	maxAttempts    = 3
	retryBaseDelay = 500 * time.Millisecond
)

// ErrNotFound 表示目标仓库或资源不存在（API 返回 404）。
var ErrNotFound = errors.New("github: resource not found")

// Client wraps the go-github client with helper methods.
type Client struct {
	gh      *gh.Client
	http    *http.Client
	apiBase string
	limiter *rate.Limiter
}

// NewClient 使用静态 token 创建一个 GitHub API 客户端。
// 客户端在进程启动时创建一次，供所有请求复用。
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = defaultTimeout

	client := gh.NewClient(tc)
	if cfg.APIBase != "" && cfg.APIBase != "https://api.github.com" {
		base, err := client.WithEnterpriseURLs(cfg.APIBase, cfg.APIBase)
		if err != nil {
			return nil, fmt.Errorf("invalid github api base: %w", err)
		}
		client = base
	}

	return &Client{
		gh:      client,
		http:    tc,
		apiBase: strings.TrimSuffix(cfg.APIBase, "/"),
		limiter: rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}, nil
}

// wrapError 将 go-github 错误归一化：404 映射为 ErrNotFound。
func wrapError(err error, op string) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryable 判断错误是否值得重试：网络错误与 5xx 属于瞬时故障，4xx 不是。
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// withRetry 在限速后执行 fn，对瞬时故障做指数退避的有界重试。
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			log.Warnf("[GitHubClient] %s 失败，%s 后重试 (%d/%d): %v", op, delay, attempt+1, maxAttempts, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// GetRepository 获取仓库元数据。仓库不存在时返回 ErrNotFound。
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*gh.Repository, error) {
	var repo *gh.Repository
	err := c.withRetry(ctx, "get repo", func() error {
		var callErr error
		repo, _, callErr = c.gh.Repositories.Get(ctx, owner, name)
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "get repo")
	}
	return repo, nil
}

// ListCommits 获取仓库提交列表（首页）。
func (c *Client) ListCommits(ctx context.Context, owner, name string) ([]*gh.RepositoryCommit, error) {
	var commits []*gh.RepositoryCommit
	err := c.withRetry(ctx, "list commits", func() error {
		var callErr error
		commits, _, callErr = c.gh.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list commits")
	}
	return commits, nil
}

// ListBranches 获取仓库分支列表（首页）。
func (c *Client) ListBranches(ctx context.Context, owner, name string) ([]*gh.Branch, error) {
	var branches []*gh.Branch
	err := c.withRetry(ctx, "list branches", func() error {
		var callErr error
		branches, _, callErr = c.gh.Repositories.ListBranches(ctx, owner, name, &gh.BranchListOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list branches")
	}
	return branches, nil
}

// ListIssues 获取仓库 issue 列表（首页）。
func (c *Client) ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error) {
	var issues []*gh.Issue
	err := c.withRetry(ctx, "list issues", func() error {
		var callErr error
		issues, _, callErr = c.gh.Issues.ListByRepo(ctx, owner, name, &gh.IssueListByRepoOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list issues")
	}
	return issues, nil
}

// ListPulls 获取仓库 PR 列表（首页）。
func (c *Client) ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error) {
	var pulls []*gh.PullRequest
	err := c.withRetry(ctx, "list pulls", func() error {
		var callErr error
		pulls, _, callErr = c.gh.PullRequests.List(ctx, owner, name, &gh.PullRequestListOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list pulls")
	}
	return pulls, nil
}

// ListForks 获取仓库 fork 列表（首页）。
func (c *Client) ListForks(ctx context.Context, owner, name string) ([]*gh.Repository, error) {
	var forks []*gh.Repository
	err := c.withRetry(ctx, "list forks", func() error {
		var callErr error
		forks, _, callErr = c.gh.Repositories.ListForks(ctx, owner, name, &gh.RepositoryListForksOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list forks")
	}
	return forks, nil
}

// ListEvents 获取仓库事件列表（首页）。
func (c *Client) ListEvents(ctx context.Context, owner, name string) ([]*gh.Event, error) {
	var events []*gh.Event
	err := c.withRetry(ctx, "list events", func() error {
		var callErr error
		events, _, callErr = c.gh.Activity.ListRepositoryEvents(ctx, owner, name, &gh.ListOptions{PerPage: perPage})
		return callErr
	})
	if err != nil {
		return nil, wrapError(err, "list events")
	}
	return events, nil
}

// GetJSON 以认证身份请求一个 API URL 并返回原始 JSON。
// 仅允许指向配置的 API 域名，用于元数据中 URL 字段的展开。
func (c *Client) GetJSON(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if err := c.validateAPIURL(rawURL); err != nil {
		return nil, err
	}

	var body []byte
	err := c.withRetry(ctx, "get json", func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("fetch %s: %w", rawURL, ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s returned status %s", rawURL, resp.Status)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// DownloadZipball 下载默认分支（或指定 ref）的 zip 归档。
// GitHub 会重定向到签名的 codeload URL，http.Client 自动跟随。
func (c *Client) DownloadZipball(ctx context.Context, owner, name, ref string) ([]byte, error) {
	zipURL := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", c.apiBase, owner, name, ref)

	var data []byte
	err := c.withRetry(ctx, "download zipball", func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", zipURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download zipball: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("download zipball: %w", ErrNotFound)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download zipball returned status %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read zipball body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[GitHubClient] 归档下载完成, repo: %s/%s, size: %d 字节", owner, name, len(data))
	return data, nil
}

// validateAPIURL 校验 URL 指向配置的 GitHub API 域名。
func (c *Client) validateAPIURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	base, err := url.Parse(c.apiBase)
	if err != nil {
		return fmt.Errorf("invalid api base %q: %w", c.apiBase, err)
	}
	if u.Scheme != "https" || u.Host != base.Host {
		return fmt.Errorf("url %q is outside the configured github api host", rawURL)
	}
	return nil
}

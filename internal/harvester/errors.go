package harvester

import "errors"

// ErrNotFound 表示目标仓库不存在。服务层将其呈现为正常的空结果，而不是故障。
var ErrNotFound = errors.New("harvester: repository not found")

// ErrUpstream 表示仓库元数据请求因 404 之外的原因失败。
// 元数据请求是关键路径：它失败时整个采集中止。
var ErrUpstream = errors.New("harvester: upstream api error")

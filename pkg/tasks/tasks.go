// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents the data structure for a repository ingestion job.
// DocsDir 指向采集阶段写出的规范化文档目录。
type IngestTask struct {
	Namespace    string `json:"namespace"`
	DocsDir      string `json:"docs_dir"`
	RepoFullName string `json:"repo_full_name"`
}

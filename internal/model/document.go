// Package model 包含了应用的数据模型定义。
package model

// Document 是规范化后的文本单元，Source 记录其来源标识
// （展平后的文件名或元数据集合名，如 "commits"）。
type Document struct {
	Content string `json:"pageContent"`
	Source  string `json:"source"`
}

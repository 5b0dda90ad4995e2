// Package normalizer 将异构内容（源码文件、API 响应）规范化为带来源标识的纯文本文档。
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"repo-chat-go/internal/model"
	"strings"
	"unicode/utf8"
)

// TextSuffix 是落盘文本产物的固定后缀。
// 来源标识本身不带后缀，写盘与打包时追加。
const TextSuffix = ".txt"

// ErrNotText 表示内容不是合法的 UTF-8 文本，调用方应跳过该条目。
var ErrNotText = errors.New("normalizer: content is not valid utf-8 text")

// 展平时跳过的条目：图片与依赖锁文件。
var skipExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".ico":  {},
	".svg":  {},
}

// Normalize 将一段原始内容包装为 Document。
// 来源标识剥离目录结构，只保留基础文件名。
func Normalize(name string, raw []byte) (model.Document, error) {
	if !utf8.Valid(raw) {
		return model.Document{}, fmt.Errorf("%q: %w", name, ErrNotText)
	}
	return model.Document{
		Content: string(raw),
		Source:  SourceName(name),
	}, nil
}

// NormalizeJSON 将一个 API 响应值序列化为缩进文本并包装为 Document。
// name 是集合标识（如 "commits"），不做路径处理。
func NormalizeJSON(name string, v interface{}) (model.Document, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to marshal %q: %w", name, err)
	}
	return model.Document{
		Content: string(content),
		Source:  name,
	}, nil
}

// SourceName 从文件路径派生来源标识：基础文件名，去掉已有的文本产物后缀。
func SourceName(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	return strings.TrimSuffix(base, TextSuffix)
}

// ArtifactName 返回文档落盘/打包时的文件名。
func ArtifactName(doc model.Document) string {
	return doc.Source + TextSuffix
}

// Skip 判断一个归档条目是否应跳过规范化（图片、依赖锁文件）。
func Skip(name string) bool {
	base := strings.ToLower(filepath.Base(filepath.ToSlash(name)))
	if base == "package-lock.json" {
		return true
	}
	_, ok := skipExtensions[filepath.Ext(base)]
	return ok
}

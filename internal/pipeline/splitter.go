package pipeline

import (
	"strings"
	"unicode/utf8"
)

// defaultSeparators 按结构粒度从粗到细排列：段落、行、词，最后逐字符兜底。
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter 将长文本递归切分为带重叠的分块。
// 优先在段落和行边界处切分，只有在片段仍然超长时才退化到更细的分隔符。
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewSplitter 创建一个新的 Splitter 实例。
// 非法参数回退到默认值：chunkSize 1000，chunkOverlap 200。
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 5
		}
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split 将文本切分为分块。空文本返回 nil。
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRecursive(text, s.separators)
}

// splitRecursive 选取当前文本中出现的最粗分隔符进行切分，
// 超长的片段用剩余的更细分隔符继续递归。
func (s *Splitter) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var remaining []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			remaining = separators[i+1:]
			break
		}
	}

	splits := splitOn(text, separator)

	var chunks []string
	var pending []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) < s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, separator)...)
			pending = nil
		}
		if len(remaining) == 0 {
			// 已无更细的分隔符，整段保留
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.splitRecursive(piece, remaining)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending, separator)...)
	}
	return chunks
}

// merge 将相邻的小片段合并为接近 chunkSize 的分块，块间保留 chunkOverlap 的重叠。
func (s *Splitter) merge(splits []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)

	var chunks []string
	var window []string
	total := 0

	for _, piece := range splits {
		pieceLen := utf8.RuneCountInString(piece)
		joined := total + pieceLen
		if len(window) > 0 {
			joined += sepLen
		}
		if joined > s.chunkSize && len(window) > 0 {
			if chunk := joinPieces(window, separator); chunk != "" {
				chunks = append(chunks, chunk)
			}
			// 从窗口头部弹出，直到剩余长度落入重叠范围
			for len(window) > 0 && total > s.chunkOverlap {
				total -= utf8.RuneCountInString(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += pieceLen
	}

	if chunk := joinPieces(window, separator); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitOn 按分隔符切分文本；空分隔符表示逐字符切分。
func splitOn(text, separator string) []string {
	var splits []string
	if separator == "" {
		splits = strings.Split(text, "")
	} else {
		splits = strings.Split(text, separator)
	}
	filtered := make([]string, 0, len(splits))
	for _, sp := range splits {
		if sp != "" {
			filtered = append(filtered, sp)
		}
	}
	return filtered
}

func joinPieces(pieces []string, separator string) string {
	return strings.TrimSpace(strings.Join(pieces, separator))
}

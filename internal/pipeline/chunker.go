package pipeline

import (
	"strings"
	"unicode/utf8"

	"vera-go/internal/model"
)

const (
	// DefaultChunkSize 与 DefaultChunkOverlap 以字符（rune）计。
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// SplitText 在句号处切分文本，并把句子累积到缓冲区中，直到再追加下一句会超出 chunkSize。
// 此时输出当前缓冲区，并用缓冲区（未裁剪前）的最后 chunkOverlap 个字符加上触发的句子开始新缓冲区。
func SplitText(text string, chunkSize, chunkOverlap int) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validationError("no text available to chunk, empty file?")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}

	var chunks []model.Chunk
	emit := func(buf string) {
		trimmed := strings.TrimSpace(buf)
		if trimmed == "" {
			return
		}
		chunks = append(chunks, model.Chunk{Text: trimmed, Length: utf8.RuneCountInString(trimmed)})
	}

	var current strings.Builder
	currentLen := 0
	for _, sentence := range strings.Split(text, ".") {
		sentenceLen := utf8.RuneCountInString(sentence)
		if currentLen+sentenceLen < chunkSize {
			current.WriteString(sentence)
			current.WriteByte('.')
			currentLen += sentenceLen + 1
			continue
		}

		buf := current.String()
		emit(buf)
		carry := tailRunes(buf, chunkOverlap)

		current.Reset()
		current.WriteString(carry)
		current.WriteString(sentence)
		current.WriteByte('.')
		currentLen = utf8.RuneCountInString(carry) + sentenceLen + 1
	}
	emit(current.String())

	if len(chunks) == 0 {
		return nil, validationError("failed to create any chunks from text")
	}
	return chunks, nil
}

// tailRunes 返回 s 的最后 n 个字符。
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

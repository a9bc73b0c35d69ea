package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clauseText 生成 n 句、每句 48 个字符的文本。
func clauseText(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Clause %02d states that the tenant pays the rent. ", i)
	}
	return b.String()
}

func TestSplitTextRejectsBlankInput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := SplitText(in, 1000, 150)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestSplitTextShortTextIsSingleChunk(t *testing.T) {
	chunks, err := SplitText("The lease ends in May. Rent is due monthly", 1000, 150)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "The lease ends in May. Rent is due monthly.", chunks[0].Text)
	assert.Equal(t, len(chunks[0].Text), chunks[0].Length)
}

func TestSplitTextWindowing(t *testing.T) {
	text := clauseText(50)
	require.Len(t, text, 2400)

	chunks, err := SplitText(text, 1000, 150)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
		assert.LessOrEqual(t, c.Length, 1000+150)
	}
}

func TestSplitTextCarriesRawBufferTail(t *testing.T) {
	// 缓冲区以 "." 结尾且带前导空格，重叠取自未裁剪的缓冲区。
	chunks, err := SplitText(" aaaa. bbbb. cccc", 12, 4)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaa. bbbb.", chunks[0].Text)
	// 缓冲区 " aaaa. bbbb." 的最后 4 个字符是 "bbb."
	assert.Equal(t, "bbb. cccc.", chunks[1].Text)
}

func TestSplitTextEveryChunkNonEmpty(t *testing.T) {
	// 首句本身就超过窗口时不能产生空块。
	long := strings.Repeat("x", 40) + ". short"
	chunks, err := SplitText(long, 10, 3)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	chunks, err := SplitText("合同自签署之日起生效。租金按月支付", 1000, 150)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, len([]rune(chunks[0].Text)), chunks[0].Length)
}

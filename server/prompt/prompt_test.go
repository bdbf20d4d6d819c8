package prompt

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHistory(t *testing.T) {
	h := NewHistory()
	require.Len(t, h, 1)
	assert.Equal(t, RoleSystem, h[0].Role)
	assert.Contains(t, h[0].Content, "股票分析師")
}

func TestWithPortfolio(t *testing.T) {
	t.Run("appends on first set", func(t *testing.T) {
		h := WithPortfolio(NewHistory(), "持有台積電 10 張")
		require.Len(t, h, 2)
		assert.Equal(t, RoleUser, h[1].Role)
		assert.Equal(t, PortfolioMarker+"持有台積電 10 張", h[1].Content)
	})

	t.Run("overwrites in place on update", func(t *testing.T) {
		h := WithPortfolio(NewHistory(), "持有台積電 10 張")
		h = WithText(h, "現在該加碼嗎？", 10)
		h = WithPortfolio(h, "已出清台積電")

		var portfolios []int
		for i, m := range h {
			if m.Role == RoleUser && strings.HasPrefix(m.Content, PortfolioMarker) {
				portfolios = append(portfolios, i)
			}
		}
		require.Len(t, portfolios, 1, "portfolio entry must be a singleton")
		assert.Equal(t, 1, portfolios[0], "updated entry keeps its original position")
		assert.Equal(t, PortfolioMarker+"已出清台積電", h[portfolios[0]].Content)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		orig := WithPortfolio(NewHistory(), "A")
		_ = WithPortfolio(orig, "B")
		assert.Equal(t, PortfolioMarker+"A", orig[1].Content)
	})
}

func TestWithText(t *testing.T) {
	t.Run("appends a user turn", func(t *testing.T) {
		h := WithText(NewHistory(), "後市如何？", 10)
		require.Len(t, h, 2)
		assert.Equal(t, RoleUser, h[1].Role)
		assert.Equal(t, "後市如何？", h[1].Content)
	})

	t.Run("trims when the limit is reached", func(t *testing.T) {
		h := WithPortfolio(NewHistory(), "持有台積電")
		for i := 0; i < 8; i++ {
			h = WithText(h, "問題", 100)
		}
		require.Len(t, h, 10)

		h = WithText(h, "最後一個問題", 10)

		// Hard reset: system prompt + portfolio survive, then the new turn.
		require.Len(t, h, 3)
		assert.Equal(t, RoleSystem, h[0].Role)
		assert.Equal(t, PortfolioMarker+"持有台積電", h[1].Content)
		assert.Equal(t, "最後一個問題", h[2].Content)
	})

	t.Run("no trim below the limit", func(t *testing.T) {
		h := WithText(NewHistory(), "q1", 10)
		h = WithText(h, "q2", 10)
		assert.Len(t, h, 3)
	})
}

func TestWithImages(t *testing.T) {
	t.Run("single image turn", func(t *testing.T) {
		img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01}
		h := WithImages(NewHistory(), [][]byte{img}, "持有台積電", 10)

		require.Len(t, h, 2)
		turn := h[1]
		assert.Equal(t, RoleUser, turn.Role)
		assert.True(t, turn.IsMultimodal())
		require.Len(t, turn.Parts, 2)

		assert.Equal(t, PartTypeText, turn.Parts[0].Type)
		assert.Contains(t, turn.Parts[0].Text, "持有台積電")
		assert.NotContains(t, turn.Parts[0].Text, "逐張")

		assert.Equal(t, PartTypeImage, turn.Parts[1].Type)
		expected := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
		assert.Equal(t, expected, turn.Parts[1].ImageURL)
	})

	t.Run("multi image turn keeps arrival order", func(t *testing.T) {
		imgs := [][]byte{
			{0xFF, 0xD8, 0x01},
			{0xFF, 0xD8, 0x02},
			{0xFF, 0xD8, 0x03},
		}
		h := WithImages(NewHistory(), imgs, "持有聯發科", 10)

		turn := h[1]
		require.Len(t, turn.Parts, 4)
		assert.Contains(t, turn.Parts[0].Text, "3 張")
		assert.Contains(t, turn.Parts[0].Text, "逐張")

		for i, img := range imgs {
			want := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
			assert.Equal(t, want, turn.Parts[i+1].ImageURL, "image part %d out of order", i)
		}
	})

	t.Run("trims when the limit is reached", func(t *testing.T) {
		h := WithPortfolio(NewHistory(), "持有台積電")
		for len(h) < 10 {
			h = WithText(h, "q", 100)
		}

		h = WithImages(h, [][]byte{{0xFF, 0x01}}, "持有台積電", 10)
		require.Len(t, h, 3)
		assert.True(t, h[2].IsMultimodal())
	})
}

func TestTrim(t *testing.T) {
	t.Run("keeps system entries and portfolio only", func(t *testing.T) {
		h := WithPortfolio(NewHistory(), "持有台積電")
		h = WithText(h, "q1", 100)
		h = WithImages(h, [][]byte{{0xFF}}, "持有台積電", 100)

		trimmed := Trim(h)
		require.Len(t, trimmed, 2)
		assert.Equal(t, RoleSystem, trimmed[0].Role)
		assert.Equal(t, PortfolioMarker+"持有台積電", trimmed[1].Content)
	})

	t.Run("without portfolio keeps system entries only", func(t *testing.T) {
		h := WithText(NewHistory(), "q1", 100)
		trimmed := Trim(h)
		require.Len(t, trimmed, 1)
		assert.Equal(t, RoleSystem, trimmed[0].Role)
	})
}

func TestEncodeImage(t *testing.T) {
	t.Run("encodes raw bytes", func(t *testing.T) {
		raw := []byte{0xFF, 0xD8, 0xFF, 0xE0}
		assert.Equal(t, base64.StdEncoding.EncodeToString(raw), EncodeImage(raw))
	})

	t.Run("passes through pre-encoded input", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("already encoded payload"))
		assert.Equal(t, encoded, EncodeImage([]byte(encoded)))
	})

	t.Run("raw jpeg magic is never treated as base64", func(t *testing.T) {
		// JPEG magic bytes are not valid UTF-8, so they always take the
		// encode path even when the length is a multiple of four.
		raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46}
		assert.Equal(t, base64.StdEncoding.EncodeToString(raw), EncodeImage(raw))
	})
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,abcd", DataURL("abcd"))
}

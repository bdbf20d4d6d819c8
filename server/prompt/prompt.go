// Package prompt assembles completion-request message lists for the
// stock-chart analysis bot. All functions are pure: they take a history
// slice and return a new one, leaving the input untouched, so the
// session store stays the single writer of conversation state.
package prompt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Message roles. Only system and user turns are recorded; model replies
// are relayed to the user, not fed back into the context.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// PartType identifies the kind of a multimodal content part.
type PartType string

const (
	PartTypeText  PartType = "text"
	PartTypeImage PartType = "image_url"
)

// Part is one element of a multimodal user turn.
type Part struct {
	Type     PartType
	Text     string
	ImageURL string
}

// Message is one entry of the conversation history. A plain turn
// carries Content; a multimodal turn carries Parts and ignores Content.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

// IsMultimodal reports whether the message carries content parts.
func (m Message) IsMultimodal() bool {
	return len(m.Parts) > 0
}

// PortfolioMarker prefixes the standing portfolio entry in the history.
// The upsert rule keys on it: the first user entry whose text content
// starts with this marker is the portfolio entry.
const PortfolioMarker = "我的投資狀況："

// AnalystGuidelines is the standing system prompt establishing the
// stock-analyst persona and the required reply format.
const AnalystGuidelines = `
你是一位專業的股票分析師，專門提供台股、美股、港股、原物料等市場的技術分析和投資建議。

【專業背景】
- 擁有豐富的技術分析和基本面分析經驗
- 熟悉各種技術指標、圖表型態和市場趨勢
- 了解不同市場的交易特性和風險因子

【分析原則】
- 基於客觀數據和圖表進行分析
- 同時考慮技術面、基本面、籌碼面和消息面
- 提供風險評估和操作建議
- 強調投資風險，不提供明確買賣點位

【回覆格式要求】
請嚴格按照以下格式回覆：

📊 **技術分析**
- 技術指標解讀（如：RSI、MACD、KD等）
- 圖表型態判讀（如：頭肩頂、雙底、三角整理等）
- 支撐阻力位分析
- 成交量分析

💰 **投資建議**
- 針對用戶持股狀況的具體建議
- 風險評估與資金配置建議
- 進出場時機參考
- 停損停利設定建議

⚠️ **風險提醒**
- 主要風險因子識別
- 市場環境變化提醒
- 個股特殊風險注意事項

📈 **後市展望**
- 短期（1-2週）走勢預判
- 中期（1-3個月）趨勢分析
- 關鍵技術位和時間點
- 需要關注的重要事件
`

// NewHistory returns a fresh conversation history seeded with the
// analyst system prompt.
func NewHistory() []Message {
	return []Message{{Role: RoleSystem, Content: AnalystGuidelines}}
}

// WithPortfolio returns the history with the portfolio entry set to
// info. The entry is a singleton: an existing one is overwritten in
// place, otherwise a new one is appended. The portfolio entry is exempt
// from the history bound; Trim preserves it.
func WithPortfolio(history []Message, info string) []Message {
	out := make([]Message, len(history))
	copy(out, history)

	entry := Message{Role: RoleUser, Content: PortfolioMarker + info}
	if i := portfolioIndex(out); i >= 0 {
		out[i] = entry
		return out
	}
	return append(out, entry)
}

// WithText returns the history with a plain user turn appended,
// trimming first if the append would exceed limit.
func WithText(history []Message, text string, limit int) []Message {
	out := trimForAppend(history, limit)
	return append(out, Message{Role: RoleUser, Content: text})
}

// WithImages returns the history with one multimodal user turn
// appended, containing an instruction part followed by one image part
// per image in arrival order. The instruction differs for single-image
// and multi-image turns: the latter asks for per-image analysis
// followed by a cross-image synthesis, an ordering the downstream model
// depends on. Trims first if the append would exceed limit.
func WithImages(history []Message, images [][]byte, portfolio string, limit int) []Message {
	out := trimForAppend(history, limit)

	parts := make([]Part, 0, len(images)+1)
	parts = append(parts, Part{Type: PartTypeText, Text: imageInstruction(len(images), portfolio)})
	for _, img := range images {
		parts = append(parts, Part{Type: PartTypeImage, ImageURL: DataURL(EncodeImage(img))})
	}

	return append(out, Message{Role: RoleUser, Parts: parts})
}

// Trim hard-resets the history to the system entries plus the portfolio
// entry, if present. This is deliberately not a sliding window: once the
// bound is hit, conversational continuity restarts from the standing
// context.
func Trim(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	if i := portfolioIndex(history); i >= 0 {
		out = append(out, history[i])
	}
	return out
}

func trimForAppend(history []Message, limit int) []Message {
	if limit > 0 && len(history) >= limit {
		return Trim(history)
	}
	out := make([]Message, len(history))
	copy(out, history)
	return out
}

// portfolioIndex returns the index of the first user entry carrying the
// portfolio marker, or -1.
func portfolioIndex(history []Message) int {
	for i, m := range history {
		if m.Role == RoleUser && !m.IsMultimodal() && strings.HasPrefix(m.Content, PortfolioMarker) {
			return i
		}
	}
	return -1
}

func imageInstruction(n int, portfolio string) string {
	if n <= 1 {
		return fmt.Sprintf("請根據我的投資狀況分析以下股票圖表：\n投資狀況：%s\n\n請提供詳細的技術分析和投資建議。", portfolio)
	}
	return fmt.Sprintf(
		"請根據我的投資狀況分析以下 %d 張股票圖表：\n投資狀況：%s\n\n請先依序逐張分析每張圖表，再就所有圖表做綜合比較與整體投資建議。",
		n, portfolio)
}

// EncodeImage returns the base64 encoding of image data. Input that is
// already a valid base64 string passes through unchanged, so callers
// holding pre-encoded content cannot double-encode it.
func EncodeImage(data []byte) string {
	if isBase64(data) {
		return string(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL wraps a base64-encoded image in the data-URL form the
// completion endpoint expects.
func DataURL(encoded string) string {
	return "data:image/jpeg;base64," + encoded
}

// isBase64 reports whether data is a plausible base64 string. Raw image
// bytes never qualify: every common image format opens with non-ASCII
// magic bytes.
func isBase64(data []byte) bool {
	if len(data) == 0 || len(data)%4 != 0 || !utf8.Valid(data) {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(string(data))
	return err == nil
}

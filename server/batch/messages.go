package batch

import "fmt"

// User-facing copy. All replies go out in Traditional Chinese to match
// the bot's audience.
const (
	welcomeMessage = "歡迎使用股市小幫手！\n\n" +
		"請先用「問股市」告訴我你的投資狀況，例如：\n" +
		"問股市 我持有台積電 10 張，成本 580\n\n" +
		"之後可以：\n" +
		"・直接提問，例如「現在該加碼嗎？」\n" +
		"・傳股票走勢圖給我，我會結合你的持股幫你分析\n" +
		"・用「更新持股」隨時更新你的投資狀況"

	portfolioSetMessage = "已記下你的投資狀況！\n" +
		"接下來可以直接提問，或傳走勢圖給我分析。"

	portfolioUpdatedMessage = "投資狀況已更新！"

	portfolioFormatMessage = "請在「問股市」後面描述你的投資狀況，例如：\n" +
		"問股市 我持有台積電 10 張，成本 580"

	updateFormatMessage = "請在「更新持股」後面描述新的投資狀況，例如：\n" +
		"更新持股 台積電已出清，改持有聯發科 5 張"

	needPortfolioTextMessage = "我還不知道你的投資狀況，" +
		"請先用「問股市」告訴我，例如：\n" +
		"問股市 我持有台積電 10 張，成本 580"

	needPortfolioImageMessage = "請先用「問股市」告訴我你的投資狀況，" +
		"我才能結合持股幫你分析這張圖。"

	fetchFailedMessage = "圖片下載失敗了，請再傳一次。"

	analysisFailedMessage = "分析服務暫時無法使用，請稍後再試。"

	answerFailedMessage = "回答服務暫時無法使用，請稍後再試。"
)

func imageReceivedMessage(n int) string {
	if n == 1 {
		return "收到圖片了！稍等一下，如果還有其他走勢圖可以繼續傳，我會一起分析。"
	}
	return fmt.Sprintf("收到第 %d 張圖片了！我會一起分析。", n)
}

func analysisResultMessage(n int, answer string) string {
	return fmt.Sprintf("📊 分析結果（共 %d 張圖片）：\n\n%s", n, answer)
}

// Package line wraps the LINE Messaging API behind the small Messenger
// surface the coordinator needs: synchronous replies inside an event's
// reply window, asynchronous pushes for batch results that outlive it,
// and content download for image messages.
package line

import (
	"fmt"
	"io"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"go.uber.org/zap"
)

// Messenger is the outbound surface to the messaging platform.
type Messenger interface {
	// Reply sends text within the triggering event's reply window.
	Reply(replyToken, text string) error

	// Push sends text to a user outside any reply window; used for
	// batch results, whose triggering tokens have expired by flush time.
	Push(userID, text string) error

	// FetchContent downloads the raw bytes of a message's content.
	FetchContent(messageID string) ([]byte, error)
}

// Client implements Messenger against the LINE Messaging API.
type Client struct {
	api    *messaging_api.MessagingApiAPI
	blob   *messaging_api.MessagingApiBlobAPI
	logger *zap.Logger
}

var _ Messenger = (*Client)(nil)

// NewClient creates a LINE client for the given channel token.
func NewClient(channelToken string, logger *zap.Logger) (*Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create messaging client: %w", err)
	}
	blob, err := messaging_api.NewMessagingApiBlobAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	return &Client{api: api, blob: blob, logger: logger}, nil
}

// Reply implements Messenger.
func (c *Client) Reply(replyToken, text string) error {
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	return nil
}

// Push implements Messenger.
func (c *Client) Push(userID, text string) error {
	_, err := c.api.PushMessage(&messaging_api.PushMessageRequest{
		To: userID,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}, "")
	if err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	return nil
}

// FetchContent implements Messenger.
func (c *Client) FetchContent(messageID string) ([]byte, error) {
	resp, err := c.blob.GetMessageContent(messageID)
	if err != nil {
		return nil, fmt.Errorf("get message content: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read message content: %w", err)
	}

	c.logger.Debug("Downloaded message content",
		zap.String("message_id", messageID),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

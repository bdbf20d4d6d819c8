// Package batch coordinates the image-debounce cycle: images collect in
// the session store while a per-user timer keeps resetting, and when
// the window finally elapses the batch is drained, analysed in one
// completion call, and the result pushed back to the user.
package batch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/linwei/chartline/config"
	"github.com/linwei/chartline/errors"
	"github.com/linwei/chartline/server/line"
	"github.com/linwei/chartline/server/llm"
	"github.com/linwei/chartline/server/metrics"
	"github.com/linwei/chartline/server/prompt"
	"github.com/linwei/chartline/server/session"
)

// Command keywords recognised in text messages.
const (
	setPortfolioPrefix    = "問股市"
	updatePortfolioPrefix = "更新持股"
)

var helpKeywords = map[string]bool{
	"help": true,
	"?":    true,
	"？":    true,
	"幫助":   true,
	"說明":   true,
}

// Pusher queues an asynchronous message for delivery.
type Pusher interface {
	Enqueue(userID, text string) bool
}

// Coordinator routes webhook events through the session store and
// drives batch flushes. It is safe for concurrent use; all per-user
// state lives in the store.
type Coordinator struct {
	store     *session.Store
	completer llm.Completer
	messenger line.Messenger
	pusher    Pusher
	watcher   config.Watcher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(
	store *session.Store,
	completer llm.Completer,
	messenger line.Messenger,
	pusher Pusher,
	watcher config.Watcher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Coordinator {
	return &Coordinator{
		store:     store,
		completer: completer,
		messenger: messenger,
		pusher:    pusher,
		watcher:   watcher,
		logger:    logger,
		metrics:   m,
	}
}

// HandleText processes a text message. Text unrelated to the batch
// (help, general questions) discards any pending images: the user has
// moved on, and a stale flush after it would be confusing. Portfolio
// commands do not: portfolio text is read at flush time, so a batch
// collecting when one arrives keeps collecting and flushes with the
// updated context.
func (c *Coordinator) HandleText(ctx context.Context, userID, replyToken, text string) {
	text = strings.TrimSpace(text)

	switch {
	case helpKeywords[strings.ToLower(text)]:
		c.discardPending(userID)
		c.reply(userID, replyToken, welcomeMessage)

	case strings.HasPrefix(text, setPortfolioPrefix):
		c.handlePortfolio(userID, replyToken, strings.TrimPrefix(text, setPortfolioPrefix),
			portfolioFormatMessage, portfolioSetMessage)

	case strings.HasPrefix(text, updatePortfolioPrefix):
		c.handlePortfolio(userID, replyToken, strings.TrimPrefix(text, updatePortfolioPrefix),
			updateFormatMessage, portfolioUpdatedMessage)

	default:
		c.discardPending(userID)
		c.handleQuestion(ctx, userID, replyToken, text)
	}
}

func (c *Coordinator) discardPending(userID string) {
	if dropped := c.store.DrainImages(userID); len(dropped) > 0 {
		c.metrics.BatchesFlushedTotal.WithLabelValues("discarded").Inc()
		c.logger.Info("Discarded pending images on text arrival",
			zap.String("user_id", userID),
			zap.Int("count", len(dropped)),
		)
	}
}

func (c *Coordinator) handlePortfolio(userID, replyToken, info, formatMsg, okMsg string) {
	info = strings.TrimSpace(info)
	if err := c.store.SetPortfolio(userID, info); err != nil {
		c.reply(userID, replyToken, formatMsg)
		return
	}
	c.store.UpdateHistory(userID, func(h []prompt.Message) []prompt.Message {
		return prompt.WithPortfolio(h, info)
	})
	c.reply(userID, replyToken, okMsg)
}

func (c *Coordinator) handleQuestion(ctx context.Context, userID, replyToken, text string) {
	if text == "" {
		c.reply(userID, replyToken, welcomeMessage)
		return
	}
	if !c.store.HasPortfolio(userID) {
		c.reply(userID, replyToken, needPortfolioTextMessage)
		return
	}

	cfg := c.watcher.GetCurrentConfig()
	c.store.UpdateHistory(userID, func(h []prompt.Message) []prompt.Message {
		return prompt.WithText(h, text, cfg.Batch.HistoryLimit)
	})

	cctx, cancel := context.WithTimeout(ctx, cfg.LLM.RequestTimeout)
	defer cancel()

	answer, err := c.completer.Complete(cctx, c.store.History(userID))
	if err != nil {
		errors.LogError(c.logger, errors.NewUpstreamError("", "question completion failed", err), "")
		c.reply(userID, replyToken, answerFailedMessage)
		return
	}

	c.reply(userID, replyToken, answer)
}

// HandleImage processes an image message: the content is fetched, added
// to the pending batch, and the debounce timer restarted. Without a
// portfolio on file the image is rejected and nothing is mutated.
func (c *Coordinator) HandleImage(ctx context.Context, userID, replyToken, messageID string) {
	if !c.store.HasPortfolio(userID) {
		c.reply(userID, replyToken, needPortfolioImageMessage)
		return
	}

	data, err := c.messenger.FetchContent(messageID)
	if err != nil {
		errors.LogError(c.logger, errors.NewUpstreamError("", "fetch image content failed", err), "")
		c.reply(userID, replyToken, fetchFailedMessage)
		return
	}

	n := c.store.AppendImage(userID, data)

	cfg := c.watcher.GetCurrentConfig()
	c.store.SetTimer(userID, cfg.Batch.Window, func(images [][]byte, collectedFor time.Duration) {
		c.flush(userID, images, collectedFor)
	})

	c.logger.Debug("Image added to batch",
		zap.String("user_id", userID),
		zap.String("message_id", messageID),
		zap.Int("pending", n),
	)
	c.reply(userID, replyToken, imageReceivedMessage(n))
}

// HandleFollow greets a user who just added the bot.
func (c *Coordinator) HandleFollow(userID, replyToken string) {
	c.reply(userID, replyToken, welcomeMessage)
}

// flush runs once per drained batch, invoked by the session timer. It
// builds the multimodal turn, makes one completion call, and queues the
// result for push delivery. Errors never leave the session in a stuck
// state: the batch is already drained, so the next image starts fresh.
func (c *Coordinator) flush(userID string, images [][]byte, collectedFor time.Duration) {
	cfg := c.watcher.GetCurrentConfig()

	if collectedFor > 5*cfg.Batch.Window {
		c.logger.Warn("Batch collected far longer than one window",
			zap.String("user_id", userID),
			zap.Duration("collected_for", collectedFor),
			zap.Duration("window", cfg.Batch.Window),
		)
	}

	portfolio := c.store.Portfolio(userID)
	c.store.UpdateHistory(userID, func(h []prompt.Message) []prompt.Message {
		return prompt.WithImages(h, images, portfolio, cfg.Batch.HistoryLimit)
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.RequestTimeout)
	defer cancel()

	c.metrics.BatchSize.Observe(float64(len(images)))
	c.metrics.BatchCollectDuration.Observe(collectedFor.Seconds())

	answer, err := c.completer.Complete(ctx, c.store.History(userID))
	if err != nil {
		c.metrics.BatchesFlushedTotal.WithLabelValues("error").Inc()
		errors.LogError(c.logger, errors.NewUpstreamError("", "batch completion failed", err), "")
		c.pusher.Enqueue(userID, analysisFailedMessage)
		return
	}

	c.metrics.BatchesFlushedTotal.WithLabelValues("ok").Inc()
	c.logger.Info("Batch flushed",
		zap.String("user_id", userID),
		zap.Int("images", len(images)),
		zap.Duration("collected_for", collectedFor),
	)
	c.pusher.Enqueue(userID, analysisResultMessage(len(images), answer))
}

func (c *Coordinator) reply(userID, replyToken, text string) {
	if err := c.messenger.Reply(replyToken, text); err != nil {
		errors.LogError(c.logger, errors.NewDeliveryError("", "reply delivery failed", err), "")
		c.logger.Debug("Reply not delivered", zap.String("user_id", userID))
	}
}

package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/neoclaw-ai/promptsmith/internal/commands"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/feedback"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/runtime"
)

const (
	telegramRatingPrefix   = "rate:"
	telegramTypingInterval = 4 * time.Second
)

// Rater records a rating submitted from an answer's inline keyboard.
type Rater interface {
	Submit(ctx context.Context, turnID int64, comment string, rating int) (refine.SubmitResult, error)
}

type telegramSendMessageFunc func(context.Context, *bot.SendMessageParams) (*models.Message, error)
type telegramAnswerCallbackQueryFunc func(context.Context, *bot.AnswerCallbackQueryParams) (bool, error)
type telegramEditMessageReplyMarkupFunc func(context.Context, *bot.EditMessageReplyMarkupParams) (*models.Message, error)
type telegramSendChatActionFunc func(context.Context, *bot.SendChatActionParams) (bool, error)

var _ runtime.Listener = (*TelegramListener)(nil)

// TelegramListener receives Telegram updates from allowed users and runs
// one dispatcher per chat.
type TelegramListener struct {
	token   string
	allowed map[int64]struct{}
	rater   Rater

	sendMessage            telegramSendMessageFunc
	answerCallbackQuery    telegramAnswerCallbackQueryFunc
	editMessageReplyMarkup telegramEditMessageReplyMarkupFunc
	sendChatAction         telegramSendChatActionFunc

	mu          sync.Mutex
	dispatchCtx context.Context
	handler     runtime.Handler
	dispatchers map[int64]*runtime.Dispatcher
}

// NewTelegram creates a Telegram listener. Ratings from the inline keyboard
// go to rater; a nil rater disables the keyboard.
func NewTelegram(cfg config.ChannelConfig, rater Rater) *TelegramListener {
	allowed := make(map[int64]struct{}, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = struct{}{}
	}
	return &TelegramListener{
		token:       strings.TrimSpace(cfg.Token),
		allowed:     allowed,
		rater:       rater,
		dispatchers: make(map[int64]*runtime.Dispatcher),
	}
}

// Listen long-polls Telegram until ctx is cancelled.
func (t *TelegramListener) Listen(ctx context.Context, handler runtime.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if t.token == "" {
		return errors.New("telegram token is required")
	}
	if len(t.allowed) == 0 {
		logging.Logger().Warn("No allowed Telegram users. Set channels.telegram.allowed_users to your Telegram user id.")
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defaultHandler := func(updateCtx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil || update.Message == nil || update.Message.From == nil {
			return
		}
		t.handleInboundMessage(updateCtx, update.Message)
	}

	b, err := t.createTelegramBot(defaultHandler)
	if err != nil {
		cancelDispatch()
		return fmt.Errorf("create telegram bot: %w", err)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		cancelDispatch()
		return fmt.Errorf("fetch telegram bot profile: %w", err)
	}
	logging.Logger().Info(fmt.Sprintf("Connected to Telegram Bot @%s", strings.TrimSpace(me.Username)))

	t.sendMessage = b.SendMessage
	t.answerCallbackQuery = b.AnswerCallbackQuery
	t.editMessageReplyMarkup = b.EditMessageReplyMarkup
	t.sendChatAction = b.SendChatAction

	t.startDispatching(dispatchCtx, handler)
	defer func() {
		cancelDispatch()
		t.waitDispatchers()
	}()

	go b.Start(ctx)
	<-ctx.Done()
	t.stopDispatchers()
	return nil
}

// startDispatching sets the handler and context that chat dispatchers run with.
func (t *TelegramListener) startDispatching(ctx context.Context, handler runtime.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatchCtx = ctx
	t.handler = &telegramTypingHandler{listener: t, handler: handler}
}

func (t *TelegramListener) dispatcher(chatID int64, create bool) (*runtime.Dispatcher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.dispatchers[chatID]; ok || !create {
		return d, nil
	}
	if t.dispatchCtx == nil || t.handler == nil {
		return nil, runtime.ErrNotStarted
	}
	d := runtime.NewDispatcher(t.handler, defaultDispatchQueue)
	if err := d.Start(t.dispatchCtx); err != nil {
		return nil, err
	}
	t.dispatchers[chatID] = d
	return d, nil
}

func (t *TelegramListener) stopDispatchers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.dispatchers {
		d.Stop()
	}
}

func (t *TelegramListener) waitDispatchers() {
	t.mu.Lock()
	dispatchers := make([]*runtime.Dispatcher, 0, len(t.dispatchers))
	for _, d := range t.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	t.mu.Unlock()
	for _, d := range dispatchers {
		d.Wait()
	}
}

func (t *TelegramListener) handleInboundMessage(ctx context.Context, msg *models.Message) {
	if msg == nil || msg.From == nil {
		return
	}

	userID := msg.From.ID
	username := strings.TrimSpace(msg.From.Username)
	logging.Logger().Info(
		"telegram inbound message",
		"user_id", userID,
		"username", username,
		"chat_id", msg.Chat.ID,
		"text", messagePreview(msg.Text, 100),
	)
	if !t.isAllowedUser(userID) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	writer := &telegramWriter{listener: t, chatID: msg.Chat.ID}

	// /stop must not queue behind the answer it cancels.
	if strings.EqualFold(text, "/stop") {
		d, _ := t.dispatcher(msg.Chat.ID, false)
		reply := "Nothing to stop."
		if d != nil && d.Stop() {
			reply = "Stopped."
		}
		if err := writer.WriteMessage(ctx, reply); err != nil {
			logging.Logger().Warn("telegram stop reply failed", "chat_id", msg.Chat.ID, "err", err)
		}
		return
	}

	d, err := t.dispatcher(msg.Chat.ID, true)
	if err != nil {
		logging.Logger().Warn("telegram dispatcher unavailable", "chat_id", msg.Chat.ID, "err", err)
		return
	}
	inbound := &runtime.Message{Text: text, ChatID: msg.Chat.ID, Sender: username}
	if err := d.Enqueue(ctx, inbound, writer); err != nil {
		logging.Logger().Warn("telegram enqueue failed", "user_id", userID, "username", username, "err", err)
	}
}

func (t *TelegramListener) isAllowedUser(userID int64) bool {
	_, ok := t.allowed[userID]
	return ok
}

func (t *TelegramListener) handleRatingCallback(ctx context.Context, callback *models.CallbackQuery) {
	if callback == nil {
		return
	}
	turnID, rating, ok := parseRatingData(callback.Data)
	if !ok || !t.isAllowedUser(callback.From.ID) || t.rater == nil {
		if _, err := t.answerTelegramCallback(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callback.ID}); err != nil {
			logging.Logger().Warn("failed to answer rating callback", "err", err)
		}
		return
	}

	if _, err := t.answerTelegramCallback(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
		Text:            fmt.Sprintf("Rating %d received.", rating),
	}); err != nil {
		logging.Logger().Warn("failed to answer rating callback", "err", err)
	}

	chatID, messageID, located := callbackMessageLocation(callback)
	if located {
		if _, err := t.editTelegramReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: nil,
		}); err != nil {
			logging.Logger().Warn("failed to clear rating keyboard", "chat_id", chatID, "message_id", messageID, "err", err)
		}
	}

	res, err := t.rater.Submit(ctx, turnID, "", rating)
	reply := ""
	switch {
	case err != nil:
		logging.Logger().Warn("telegram rating rejected", "turn_id", turnID, "rating", rating, "err", err)
		reply = "Feedback rejected: " + err.Error()
	default:
		reply = commands.FormatSubmitResult(res)
	}
	if !located {
		return
	}
	if err := t.sendChatMessage(ctx, chatID, reply); err != nil {
		logging.Logger().Warn("telegram rating reply failed", "chat_id", chatID, "err", err)
	}
}

type telegramWriter struct {
	listener *TelegramListener
	chatID   int64
}

// WriteMessage sends text formatted as Telegram HTML.
func (w *telegramWriter) WriteMessage(ctx context.Context, text string) error {
	if w == nil || w.listener == nil {
		return errors.New("telegram sender is not configured")
	}
	return w.listener.sendFormatted(ctx, w.chatID, text, nil)
}

// WriteAnswer sends an answer with a rating keyboard for turnID.
func (w *telegramWriter) WriteAnswer(ctx context.Context, text string, turnID int64) error {
	if w == nil || w.listener == nil {
		return errors.New("telegram sender is not configured")
	}
	var markup models.ReplyMarkup
	if w.listener.rater != nil && turnID > 0 {
		markup = ratingKeyboard(turnID)
	}
	return w.listener.sendFormatted(ctx, w.chatID, text, markup)
}

// telegramTypingHandler shows the typing indicator while a non-command
// message is answered.
type telegramTypingHandler struct {
	listener *TelegramListener
	handler  runtime.Handler
}

func (h *telegramTypingHandler) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	if writer, ok := w.(*telegramWriter); ok && msg != nil && !strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		typingCtx, stopTyping := context.WithCancel(ctx)
		defer stopTyping()
		go h.listener.runTypingIndicator(typingCtx, writer.chatID)
	}
	return h.handler.HandleMessage(ctx, w, msg)
}

// sendFormatted sends text as HTML when it renders and fits in one message,
// otherwise as plain chunks. markup goes on the last message.
func (t *TelegramListener) sendFormatted(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) error {
	if utf8.RuneCountInString(text) > telegramMessageLimit {
		chunks := splitMessage(text, telegramMessageLimit)
		for i, chunk := range chunks {
			params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
			if i == len(chunks)-1 && markup != nil {
				params.ReplyMarkup = markup
			}
			if _, err := t.sendTelegramMessage(ctx, params); err != nil {
				return err
			}
		}
		return nil
	}

	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	formatted, ok := formatTelegram(text)
	if !ok {
		_, err := t.sendTelegramMessage(ctx, params)
		return err
	}
	params.Text = formatted
	params.ParseMode = models.ParseModeHTML
	if _, err := t.sendTelegramMessage(ctx, params); err != nil {
		logging.Logger().Warn("telegram html send failed; retrying as plain text", "chat_id", chatID, "err", err)
		params.Text = text
		params.ParseMode = ""
		_, err = t.sendTelegramMessage(ctx, params)
		return err
	}
	return nil
}

func ratingKeyboard(turnID int64) *models.InlineKeyboardMarkup {
	row := make([]models.InlineKeyboardButton, 0, feedback.MaxRating-feedback.MinRating+1)
	for rating := feedback.MinRating; rating <= feedback.MaxRating; rating++ {
		row = append(row, models.InlineKeyboardButton{
			Text:         strconv.Itoa(rating) + " ⭐",
			CallbackData: fmt.Sprintf("%s%d:%d", telegramRatingPrefix, turnID, rating),
		})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}

// parseRatingData parses "rate:<turn>:<rating>" callback data.
func parseRatingData(data string) (turnID int64, rating int, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(data), telegramRatingPrefix)
	if !found {
		return 0, 0, false
	}
	turnPart, ratingPart, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	turnID, err := strconv.ParseInt(turnPart, 10, 64)
	if err != nil || turnID <= 0 {
		return 0, 0, false
	}
	rating, err = strconv.Atoi(ratingPart)
	if err != nil {
		return 0, 0, false
	}
	return turnID, rating, true
}

func (t *TelegramListener) sendTelegramMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	send := t.sendMessage
	if send == nil {
		return nil, errors.New("telegram bot is not connected")
	}
	return send(ctx, params)
}

func (t *TelegramListener) sendChatMessage(ctx context.Context, chatID int64, text string) error {
	_, err := t.sendTelegramMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

func (t *TelegramListener) answerTelegramCallback(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	answer := t.answerCallbackQuery
	if answer == nil {
		return false, errors.New("telegram bot is not connected")
	}
	return answer(ctx, params)
}

func (t *TelegramListener) editTelegramReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	edit := t.editMessageReplyMarkup
	if edit == nil {
		return nil, errors.New("telegram bot is not connected")
	}
	return edit(ctx, params)
}

func (t *TelegramListener) runTypingIndicator(ctx context.Context, chatID int64) {
	t.sendTypingAction(ctx, chatID)

	ticker := time.NewTicker(telegramTypingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sendTypingAction(ctx, chatID)
		}
	}
}

func (t *TelegramListener) sendTypingAction(ctx context.Context, chatID int64) {
	send := t.sendChatAction
	if send == nil {
		return
	}
	send(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
}

func callbackMessageLocation(callback *models.CallbackQuery) (int64, int, bool) {
	if callback == nil {
		return 0, 0, false
	}
	if callback.Message.Message != nil {
		return callback.Message.Message.Chat.ID, callback.Message.Message.ID, true
	}
	if callback.Message.InaccessibleMessage != nil {
		return callback.Message.InaccessibleMessage.Chat.ID, callback.Message.InaccessibleMessage.MessageID, true
	}
	return 0, 0, false
}

func messagePreview(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func (t *TelegramListener) createTelegramBot(defaultHandler bot.HandlerFunc) (*bot.Bot, error) {
	options := []bot.Option{
		bot.WithDefaultHandler(defaultHandler),
		bot.WithCallbackQueryDataHandler(telegramRatingPrefix, bot.MatchTypePrefix, t.onRatingCallback),
	}
	return bot.New(t.token, options...)
}

func (t *TelegramListener) onRatingCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.CallbackQuery == nil {
		return
	}
	t.handleRatingCallback(ctx, update.CallbackQuery)
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/onnwee/dropwatch/catalog"
)

// telegramSender is the part of *tgbotapi.BotAPI the sink uses.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SubscriberLister yields the chat ids to notify.
type SubscriberLister interface {
	List(ctx context.Context) ([]int64, error)
}

// Telegram sends every product to every subscribed chat.
type Telegram struct {
	bot  telegramSender
	subs SubscriberLister
}

// NewTelegram connects the bot with token.
func NewTelegram(token string, subs SubscriberLister) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, subs: subs}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, products map[string]catalog.Product) error {
	chats, err := t.subs.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(chats) == 0 {
		return nil
	}
	items := sorted(products)
	var errs []error
	for _, chatID := range chats {
		for _, p := range items {
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
			if _, err := t.bot.Send(telegramMessage(chatID, p)); err != nil {
				errs = append(errs, fmt.Errorf("chat %d product %s: %w", chatID, p.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func telegramMessage(chatID int64, p catalog.Product) tgbotapi.Chattable {
	text := telegramText(p)
	if p.Image != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(p.Image))
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeHTML
		return photo
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return msg
}

func telegramText(p catalog.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title(p)))
	wrap := func(tag string) func(string) string {
		return func(s string) string { return "<" + tag + ">" + s + "</" + tag + ">" }
	}
	if line := priceLine(p, wrap("s"), wrap("b")); line != "" {
		b.WriteString("💰 " + line + "\n")
	}
	if d := discountText(p); d != "" {
		b.WriteString("🔥 " + d + "\n")
	}
	b.WriteString("📦 " + availability(p) + "\n")
	if p.Link != "" {
		fmt.Fprintf(&b, `<a href="%s">Open product</a>`, html.EscapeString(p.Link))
	}
	return b.String()
}

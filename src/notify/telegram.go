// Package notify pushes fills to a Telegram chat and answers a few chat commands.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"papertrader/src/logger"
	"papertrader/src/portfolio"

	gobot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of the bot API used to deliver messages.
type Sender interface {
	Send(c gobot.Chattable) (gobot.Message, error)
}

// Controls lets chat commands inspect and steer the session.
type Controls interface {
	Snapshot() portfolio.Snapshot
	Start() error
	Stop() error
}

const queueSize = 64

// TelegramNotifier implements portfolio.Listener. Fills are formatted on the caller's
// goroutine and delivered by Run, so the ledger is never held up by the network.
type TelegramNotifier struct {
	bot      Sender
	api      *gobot.BotAPI // nil when built around a bare Sender
	chatID   int64
	controls Controls
	queue    chan string
	log      *logger.Logger
}

// NewTelegramNotifier connects to the bot API. An empty token or chat id yields nil, nil:
// notifications are simply off.
func NewTelegramNotifier(token string, chatID int64, controls Controls, log *logger.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	api, err := gobot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = false
	n := NewWithSender(api, chatID, controls, log)
	n.api = api
	n.log.Infof("telegram connected as @%s", api.Self.UserName)
	return n, nil
}

// NewWithSender builds a notifier around any Sender.
func NewWithSender(bot Sender, chatID int64, controls Controls, log *logger.Logger) *TelegramNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		controls: controls,
		queue:    make(chan string, queueSize),
		log:      log.Component("telegram"),
	}
}

// OnTrade implements portfolio.Listener.
func (tn *TelegramNotifier) OnTrade(rec portfolio.TradeRecord) {
	var text string
	if rec.Action == portfolio.ActionBuy {
		text = FormatEntry(rec)
	} else {
		text = FormatExit(rec)
	}
	tn.enqueue(text)
}

// SendErrorNotification queues an alert.
func (tn *TelegramNotifier) SendErrorNotification(title, message string) {
	tn.enqueue(fmt.Sprintf("⚠️ <b>%s</b>\n\n%s", html.EscapeString(title), html.EscapeString(message)))
}

func (tn *TelegramNotifier) enqueue(text string) {
	select {
	case tn.queue <- text:
	default:
		tn.log.Warnf("notification queue full, dropping message")
	}
}

// Run delivers queued messages and, with a live bot, answers /status, /start and /stop
// until ctx ends.
func (tn *TelegramNotifier) Run(ctx context.Context) error {
	var updates gobot.UpdatesChannel
	if tn.api != nil {
		u := gobot.NewUpdate(0)
		u.Timeout = 30
		updates = tn.api.GetUpdatesChan(u)
		defer tn.api.StopReceivingUpdates()
	}
	for {
		select {
		case <-ctx.Done():
			tn.flush()
			return nil
		case text := <-tn.queue:
			tn.send(tn.chatID, text)
		case up, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if up.Message == nil || up.Message.Chat == nil {
				continue
			}
			tn.send(up.Message.Chat.ID, tn.Command(up.Message.Text))
		}
	}
}

// flush sends what is already queued, typically the session-end exits.
func (tn *TelegramNotifier) flush() {
	for {
		select {
		case text := <-tn.queue:
			tn.send(tn.chatID, text)
		default:
			return
		}
	}
}

func (tn *TelegramNotifier) send(chatID int64, text string) {
	msg := gobot.NewMessage(chatID, text)
	msg.ParseMode = gobot.ModeHTML
	if _, err := tn.bot.Send(msg); err != nil {
		tn.log.Error("send telegram message", err)
	}
}

// Command answers a chat command.
func (tn *TelegramNotifier) Command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "Commands: /status, /start, /stop"
	}
	// strip a bot mention like /status@mybot
	cmd, _, _ := strings.Cut(fields[0], "@")
	switch cmd {
	case "/status":
		return FormatStatus(tn.controls.Snapshot())
	case "/start":
		if err := tn.controls.Start(); err != nil {
			return "Start rejected: " + html.EscapeString(err.Error())
		}
		return "Session starting"
	case "/stop":
		if err := tn.controls.Stop(); err != nil {
			return "Stop rejected: " + html.EscapeString(err.Error())
		}
		return "Session stopped"
	default:
		return "Unknown command. Try /status"
	}
}

// FormatEntry renders an opened position.
func FormatEntry(rec portfolio.TradeRecord) string {
	return fmt.Sprintf(
		"📈 <b>BUY %s</b>\n\n"+
			"Quantity: <code>%.8f</code>\n"+
			"Price: <code>%.6f</code>\n"+
			"Cost: <code>%.2f</code>\n"+
			"Confidence: <code>%.0f%%</code>\n"+
			"ID: <code>%s</code>",
		rec.Pair, rec.Quantity, rec.Price, rec.Cost+rec.Commission, rec.Confidence*100, rec.ID,
	)
}

// FormatExit renders a (possibly partial) close.
func FormatExit(rec portfolio.TradeRecord) string {
	emoji := "✅"
	if rec.Profit <= 0 {
		emoji = "❌"
	}
	title := "Close"
	if rec.Partial {
		title = "Partial close"
	}
	return fmt.Sprintf(
		"%s <b>%s %s</b> (%s)\n\n"+
			"Quantity: <code>%.8f</code>\n"+
			"Entry: <code>%.6f</code>\n"+
			"Exit: <code>%.6f</code>\n"+
			"P&amp;L: <code>%.2f</code> (<code>%.2f%%</code>)\n"+
			"ID: <code>%s</code>",
		emoji, title, rec.Pair, rec.Reason, rec.Quantity, rec.EntryPrice, rec.Price, rec.Profit, rec.ReturnPct, rec.ID,
	)
}

// FormatStatus renders a snapshot summary.
func FormatStatus(s portfolio.Snapshot) string {
	return fmt.Sprintf(
		"<b>Status:</b> %s\n"+
			"Equity: <code>%.2f</code>\n"+
			"Cash: <code>%.2f</code>\n"+
			"Profit: <code>%.2f</code> (ROI <code>%.2f%%</code>)\n"+
			"Trades: %d (win rate %.1f%%)\n"+
			"Open positions: %d\n"+
			"Max drawdown: %.2f%%",
		s.Status, s.Equity, s.Cash, s.TotalProfit, s.ROI, s.TotalTrades, s.WinRate, len(s.OpenPositions), s.MaxDrawdown,
	)
}

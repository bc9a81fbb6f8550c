package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"signal_executor/internal/models"
)

// Notifier is a fire-and-forget side channel. Implementations must never block
// the trading worker.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// PositionSource backs the /positions command.
type PositionSource interface {
	PositionsFor(ctx context.Context, symbol string) ([]models.Position, error)
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

const queueSize = 64

// Telegram delivers messages from its own goroutine and answers /positions.
type Telegram struct {
	bot    *tgbot.BotAPI
	out    sender
	chatID int64
	log    *zap.Logger
	src    PositionSource

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t := newTelegram(b, chatID, log)
	t.bot = b
	return t, nil
}

func newTelegram(out sender, chatID int64, log *zap.Logger) *Telegram {
	return &Telegram{
		out:    out,
		chatID: chatID,
		log:    log,
		queue:  make(chan string, queueSize),
		done:   make(chan struct{}),
	}
}

// WithPositions enables the /positions command.
func (t *Telegram) WithPositions(src PositionSource) *Telegram {
	t.src = src
	return t
}

// Send enqueues msg; when the queue is full the message is dropped.
func (t *Telegram) Send(msg string) {
	if t == nil || t.chatID == 0 {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("telegram queue full, message dropped")
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Start runs the delivery loop and, with a real bot and a position source,
// long-polls for commands. Both stop when ctx is done or Stop is called.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case msg := <-t.queue:
				if _, err := t.out.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
					t.log.Warn("telegram send failed", zap.Error(err))
				}
			}
		}
	}()

	if t.bot == nil || t.src == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				m := upd.Message
				if m == nil || m.Chat == nil || m.Chat.ID != t.chatID || !m.IsCommand() {
					continue
				}
				if m.Command() == "positions" {
					t.Send(t.positionsReport(ctx))
				}
			}
		}
	}()
}

// Stop ends both loops. Messages still queued are discarded.
func (t *Telegram) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
}

func (t *Telegram) positionsReport(ctx context.Context) string {
	ps, err := t.src.PositionsFor(ctx, "")
	if err != nil {
		return fmt.Sprintf("Failed to list positions: %v", err)
	}
	if len(ps) == 0 {
		return "No open positions"
	}

	var b strings.Builder
	b.WriteString("Open positions:\n")
	for _, p := range ps {
		fmt.Fprintf(&b, "- %s [%s] #%d vol=%.2f @ %.5f\n", p.Symbol, p.Label(), p.Ticket, p.Volume, p.PriceOpen)
	}
	return b.String()
}

// Log writes notifications to the service log; used when Telegram is off.
type Log struct{ log *zap.Logger }

func NewLog(log *zap.Logger) *Log               { return &Log{log: log} }
func (l *Log) Send(msg string)                  { l.log.Info("notify", zap.String("msg", msg)) }
func (l *Log) Sendf(format string, args ...any) { l.Send(fmt.Sprintf(format, args...)) }

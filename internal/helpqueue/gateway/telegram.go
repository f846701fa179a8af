package gateway

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	tb "gopkg.in/telebot.v3"

	"github.com/cs-open-lab/openlab-bot/library/log"
)

// Claim controls shown under every live queue posting. Exported so the
// service can register callback handlers on the same buttons.
var (
	BtnClaim    = tb.Btn{Unique: "hq_claim", Text: "🟡 Claim"}
	BtnUnclaim  = tb.Btn{Unique: "hq_unclaim", Text: "🔵 Unclaim"}
	BtnComplete = tb.Btn{Unique: "hq_complete", Text: "🟢 Complete"}
	BtnCancel   = tb.Btn{Unique: "hq_cancel", Text: "🔴 Cancel"}
)

// PostingMarkup builds the inline keyboard attached to live queue postings.
func PostingMarkup() *tb.ReplyMarkup {
	markup := &tb.ReplyMarkup{}
	markup.Inline(
		markup.Row(BtnClaim, BtnUnclaim),
		markup.Row(BtnComplete, BtnCancel),
	)
	return markup
}

// Telegram implements Gateway over a telebot client.
type Telegram struct {
	bot *tb.Bot
}

// NewTelegram wraps an already-connected bot.
func NewTelegram(bot *tb.Bot) *Telegram {
	return &Telegram{bot: bot}
}

// CreatePrivateChannel returns the owner's DM chat. Telegram bots cannot
// create chats, so the private request conversation is the direct chat with
// the author; mentors are brought in through AssignPermission.
func (g *Telegram) CreatePrivateChannel(ctx context.Context, ownerID int64, participantIDs ...int64) (int64, error) {
	chat, err := g.bot.ChatByID(ownerID)
	if err != nil {
		return 0, errors.Wrapf(err, "open chat with user %d", ownerID)
	}
	return chat.ID, nil
}

func (g *Telegram) SendMessage(ctx context.Context, channelRef int64, text string) (int, error) {
	msg, err := g.bot.Send(tb.ChatID(channelRef), text, &tb.SendOptions{
		ParseMode: tb.ModeMarkdown,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "send message to chat %d", channelRef)
	}
	return msg.ID, nil
}

func (g *Telegram) SendPosting(ctx context.Context, channelRef int64, text string) (int, error) {
	msg, err := g.bot.Send(tb.ChatID(channelRef), text, &tb.SendOptions{
		ParseMode:   tb.ModeMarkdown,
		ReplyMarkup: PostingMarkup(),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "send posting to chat %d", channelRef)
	}
	return msg.ID, nil
}

func (g *Telegram) EditPosting(ctx context.Context, channelRef int64, messageRef int, text string) error {
	_, err := g.bot.Edit(storedMessage(channelRef, messageRef), text, &tb.SendOptions{
		ParseMode:   tb.ModeMarkdown,
		ReplyMarkup: PostingMarkup(),
	})
	if err != nil {
		return errors.Wrapf(err, "edit message %d in chat %d", messageRef, channelRef)
	}
	return nil
}

func (g *Telegram) DeleteMessage(ctx context.Context, channelRef int64, messageRef int) error {
	if err := g.bot.Delete(storedMessage(channelRef, messageRef)); err != nil {
		return errors.Wrapf(err, "delete message %d in chat %d", messageRef, channelRef)
	}
	return nil
}

func (g *Telegram) DeleteMessageAfter(channelRef int64, messageRef int, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := g.bot.Delete(storedMessage(channelRef, messageRef)); err != nil {
			log.Logger.Warn("delete ephemeral message",
				zap.Error(err),
				zap.Int64("chat", channelRef),
				zap.Int("message", messageRef))
		}
	})
}

func (g *Telegram) FetchDisplayName(ctx context.Context, userID int64) (string, error) {
	chat, err := g.bot.ChatByID(userID)
	if err != nil {
		return "", errors.Wrapf(err, "fetch chat for user %d", userID)
	}

	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name == "" {
		name = chat.Username
	}
	if name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return name, nil
}

// AssignPermission announces the mentor in the private conversation.
// Telegram has no per-user channel permissions for DM chats, so access
// amounts to the conversation being surfaced to the mentor on claim.
func (g *Telegram) AssignPermission(ctx context.Context, channelRef int64, userID int64) error {
	name, err := g.FetchDisplayName(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := g.bot.Send(tb.ChatID(channelRef),
		name+" now has access to this conversation.", &tb.SendOptions{
			ParseMode: tb.ModeMarkdown,
		}); err != nil {
		return errors.Wrapf(err, "announce access for user %d", userID)
	}
	return nil
}

// AddRole confirms class enrollment to the user. Role membership itself is
// tracked in the class registry; Telegram has no server-side role objects.
func (g *Telegram) AddRole(ctx context.Context, userID int64, role string) error {
	if _, err := g.bot.Send(tb.ChatID(userID),
		"You now have the *"+role+"* role.", &tb.SendOptions{
			ParseMode: tb.ModeMarkdown,
		}); err != nil {
		return errors.Wrapf(err, "confirm role %q to user %d", role, userID)
	}
	return nil
}

func storedMessage(chatID int64, messageID int) tb.StoredMessage {
	return tb.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	}
}

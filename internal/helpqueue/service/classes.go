package service

import (
	"context"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	tb "gopkg.in/telebot.v3"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/intake"
)

// btnEnrollClass is the per-class enroll control under the /classes reply;
// the class name rides in the callback data.
var btnEnrollClass = tb.Btn{Unique: "hq_role"}

// handleAddClass registers a class to use the help queue. Admin only.
func (s *HelpQueue) handleAddClass(c tb.Context) error {
	ctx := context.Background()

	if !s.isAdmin(c.Sender().ID) {
		return c.Reply("Only open-lab staff can register classes.")
	}

	className, ok := intake.ParseClassName(c.Message().Payload)
	if !ok {
		return c.Reply("I didn't understand this class name. Usage: `/addclass CMPSC XXX`.",
			&tb.SendOptions{ParseMode: tb.ModeMarkdown})
	}

	cls, err := s.dao.UpsertClass(ctx, className)
	if err != nil {
		gmw.GetLogger(ctx).Error("register class", zap.Error(err), zap.String("class", className))
		return c.Reply("An error occurred registering the class. Please try again!")
	}

	return c.Reply(cls.Name+" can now use the help queue.", &tb.SendOptions{
		ParseMode: tb.ModeMarkdown,
	})
}

// handleListClasses lists registered classes with one enroll button each.
func (s *HelpQueue) handleListClasses(c tb.Context) error {
	ctx := context.Background()

	classes, err := s.dao.ListClasses(ctx)
	if err != nil {
		gmw.GetLogger(ctx).Error("list classes", zap.Error(err))
		return c.Reply("An error occurred listing classes. Please try again!")
	}
	if len(classes) == 0 {
		return c.Reply("No classes are registered yet.")
	}

	markup := &tb.ReplyMarkup{}
	rows := make([]tb.Row, 0, len(classes))
	for _, cls := range classes {
		rows = append(rows, markup.Row(markup.Data(cls.Name, btnEnrollClass.Unique, cls.Name)))
	}
	markup.Inline(rows...)

	return c.Reply("Pick your class to get its role:", markup)
}

func (s *HelpQueue) handleEnrollClass(c tb.Context) error {
	ctx := context.Background()
	className := strings.TrimSpace(c.Data())
	uid := c.Sender().ID

	if err := s.dao.EnrollClassMember(ctx, className, uid); err != nil {
		gmw.GetLogger(ctx).Warn("enroll class member",
			zap.Error(err), zap.String("class", className), zap.Int64("uid", uid))
		return c.Respond(&tb.CallbackResponse{Text: "Unable to add this role, please try again!"})
	}

	if err := s.gw.AddRole(ctx, uid, className); err != nil {
		gmw.GetLogger(ctx).Warn("confirm role", zap.Error(err), zap.Int64("uid", uid))
	}

	return c.Respond(&tb.CallbackResponse{Text: "You joined " + className + "."})
}

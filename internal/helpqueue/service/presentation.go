package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/model"
)

// statusColors are the embed colors of the original queue, kept as tags so
// downstream renderers can color-code without knowing statuses.
var statusColors = map[model.Status]string{
	model.StatusDraft:     "#202225",
	model.StatusUnclaimed: "#55acee",
	model.StatusClaimed:   "#fdcb58",
	model.StatusCompleted: "#78b259",
	model.StatusCanceled:  "#dd2e44",
}

// DisplayNames carries the resolved names a summary renders with.
type DisplayNames struct {
	Author        string
	PrimaryMentor string
	Canceler      string
}

// Summary is the human-readable projection of a request. Building it is
// pure: identical record and names yield a byte-identical summary, which
// both the live posting and the archive entry rely on.
type Summary struct {
	Title       string
	Description string
	ColorTag    string
	Footer      string
	Timestamp   time.Time
}

// BuildSummary projects a record into its display form.
func BuildSummary(rec model.HelpRequest, names DisplayNames) Summary {
	s := Summary{
		Title:       fmt.Sprintf("[%s] %s", rec.ClassName, rec.Title),
		Description: rec.Description,
		ColorTag:    statusColors[rec.Status],
		Timestamp:   rec.ModifiedAt,
	}

	switch rec.Status {
	case model.StatusDraft:
		s.Footer = "Draft"
	case model.StatusUnclaimed:
		s.Footer = "Unclaimed"
	case model.StatusClaimed:
		s.Footer = "In progress by " + names.PrimaryMentor + extraMentors(rec)
	case model.StatusCompleted:
		if len(rec.Mentors) == 0 {
			s.Footer = "Completed"
		} else {
			s.Footer = "Completed by " + names.PrimaryMentor + extraMentors(rec)
		}
	case model.StatusCanceled:
		if rec.Canceler != 0 {
			s.Footer = "Canceled by " + names.Canceler
		} else {
			s.Footer = "Canceled due to inactivity"
		}
	}

	if rec.Tag != "" {
		s.Footer += " · #" + rec.Tag
	}
	return s
}

func extraMentors(rec model.HelpRequest) string {
	if len(rec.Mentors) > 1 {
		return fmt.Sprintf(" + %d", len(rec.Mentors)-1)
	}
	return ""
}

// Render flattens the summary into message markdown.
func (s Summary) Render() string {
	return fmt.Sprintf("*%s*\n%s\n\n_%s — %s_",
		s.Title,
		s.Description,
		s.Footer,
		s.Timestamp.UTC().Format("2006-01-02 15:04 UTC"),
	)
}

// renderPosting is the full live-posting body shown in the queue chat.
func renderPosting(rec model.HelpRequest, names DisplayNames) string {
	return "New Help Request from " + names.Author + "\n\n" + BuildSummary(rec, names).Render()
}

// fetchNames resolves the display names a record's summary needs. Lookup
// failures degrade to the numeric id; presentation never fails a transition.
func (s *HelpQueue) fetchNames(ctx context.Context, rec *model.HelpRequest) DisplayNames {
	names := DisplayNames{
		Author:        s.displayName(ctx, rec.Author),
		PrimaryMentor: "",
		Canceler:      "",
	}
	if m := rec.PrimaryMentor(); m != 0 {
		names.PrimaryMentor = s.displayName(ctx, m)
	}
	if rec.Canceler != 0 {
		names.Canceler = s.displayName(ctx, rec.Canceler)
	}
	return names
}

func (s *HelpQueue) displayName(ctx context.Context, uid int64) string {
	name, err := s.gw.FetchDisplayName(ctx, uid)
	if err != nil {
		gmw.GetLogger(ctx).Warn("fetch display name",
			zap.Error(err), zap.Int64("uid", uid))
		return strconv.FormatInt(uid, 10)
	}
	return name
}

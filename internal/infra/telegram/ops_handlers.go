package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"post_scheduler/internal/app"
	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/timing"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const commandTimeout = 2 * time.Minute

type commandFunc func(ctx context.Context, senderID int64, args []string) (string, error)

type opsHandlers struct {
	ops    *app.OpsService
	loc    *time.Location
	logger *logrus.Entry
}

// RegisterOperatorHandlers registers the operator console commands.
func RegisterOperatorHandlers(b *telebot.Bot, ops *app.OpsService, loc *time.Location, baseLogger *logrus.Entry) {
	h := &opsHandlers{ops: ops, loc: loc, logger: baseLogger}

	b.Handle("/pending", h.wrap("/pending", h.pending))
	b.Handle("/cancel", h.wrap("/cancel", h.cancel))
	b.Handle("/plan", h.wrap("/plan", h.plan))
	b.Handle("/profile", h.wrap("/profile", h.profile(false)))
	b.Handle("/refresh_profile", h.wrap("/refresh_profile", h.profile(true)))
	b.Handle("/jobs", h.wrap("/jobs", h.jobs))
	b.Handle("/run_job", h.wrap("/run_job", h.runJob))
	b.Handle("/pause_job", h.wrap("/pause_job", h.setJob(false)))
	b.Handle("/resume_job", h.wrap("/resume_job", h.setJob(true)))
}

func (h *opsHandlers) wrap(command string, fn commandFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		handlerLogger := h.logger.WithFields(logrus.Fields{
			"handler":   command,
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		reply, err := fn(ctx, c.Sender().ID, c.Args())
		if err != nil {
			if errors.Is(err, app.ErrOperatorNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
			} else {
				handlerLogger.WithError(err).Warn("Command failed")
			}
			return c.Send(describeError(err))
		}
		return c.Send(reply, &telebot.SendOptions{ParseMode: telebot.ModeHTML})
	}
}

func (h *opsHandlers) pending(ctx context.Context, senderID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("/pending <userID>")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return "", err
	}
	rows, err := h.ops.Pending(ctx, senderID, userID)
	if err != nil {
		return "", err
	}
	return formatPending(userID, rows, h.loc), nil
}

func (h *opsHandlers) cancel(ctx context.Context, senderID int64, args []string) (string, error) {
	if len(args) != 2 {
		return "", usageError("/cancel <userID> <scheduledPostID>")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return "", err
	}
	if err := h.ops.Cancel(ctx, senderID, userID, args[1]); err != nil {
		return "", err
	}
	return fmt.Sprintf("Cancelled <code>%s</code>.", html.EscapeString(args[1])), nil
}

func (h *opsHandlers) plan(ctx context.Context, senderID int64, args []string) (string, error) {
	if len(args) < 1 || len(args) > 3 {
		return "", usageError("/plan <userID> [days] [perDay]")
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return "", err
	}
	days, perDay := 7, 1
	if len(args) > 1 {
		if days, err = strconv.Atoi(args[1]); err != nil {
			return "", usageError("/plan <userID> [days] [perDay]")
		}
	}
	if len(args) > 2 {
		if perDay, err = strconv.Atoi(args[2]); err != nil {
			return "", usageError("/plan <userID> [days] [perDay]")
		}
	}
	slots, err := h.ops.Plan(ctx, senderID, userID, days, perDay)
	if err != nil {
		return "", err
	}
	return formatPlan(userID, slots, h.loc), nil
}

func (h *opsHandlers) profile(refresh bool) commandFunc {
	return func(ctx context.Context, senderID int64, args []string) (string, error) {
		if len(args) != 1 {
			return "", usageError("/profile <userID>")
		}
		userID, err := parseUserID(args[0])
		if err != nil {
			return "", err
		}
		p, err := h.ops.Profile(ctx, senderID, userID, refresh)
		if err != nil {
			return "", err
		}
		return formatProfile(p), nil
	}
}

func (h *opsHandlers) jobs(_ context.Context, senderID int64, _ []string) (string, error) {
	states, err := h.ops.Jobs(senderID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<b>Jobs</b>\n")
	for _, s := range states {
		mark := "on"
		if !s.Enabled {
			mark = "paused"
		}
		fmt.Fprintf(&b, "%s: %s\n", html.EscapeString(s.Name), mark)
	}
	return b.String(), nil
}

func (h *opsHandlers) runJob(ctx context.Context, senderID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", usageError("/run_job <name>")
	}
	if err := h.ops.RunJob(ctx, senderID, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("Job %s finished.", html.EscapeString(args[0])), nil
}

func (h *opsHandlers) setJob(enabled bool) commandFunc {
	return func(_ context.Context, senderID int64, args []string) (string, error) {
		if len(args) != 1 {
			return "", usageError("/pause_job <name> or /resume_job <name>")
		}
		if err := h.ops.SetJobEnabled(senderID, args[0], enabled); err != nil {
			return "", err
		}
		state := "paused"
		if enabled {
			state = "resumed"
		}
		return fmt.Sprintf("Job %s %s.", html.EscapeString(args[0]), state), nil
	}
}

type usageErr string

func (u usageErr) Error() string { return "usage: " + string(u) }

func usageError(usage string) error { return usageErr(usage) }

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("user id must be a positive number, got %q", s)
	}
	return id, nil
}

// describeError turns a command failure into a plain-text reply.
func describeError(err error) string {
	var perr *schedule.PreconditionError
	switch {
	case errors.Is(err, app.ErrOperatorNotAuthorized):
		return "Error: you are not allowed to run this command."
	case errors.As(err, &perr):
		return "Rejected: " + perr.Error()
	case errors.Is(err, schedule.ErrScheduledPostNotFound):
		return "Scheduled post not found."
	case errors.Is(err, schedule.ErrNotPending):
		return "That scheduled post is no longer pending."
	case errors.Is(err, timing.ErrInvalidPlanRequest):
		return "Invalid plan request: " + err.Error()
	default:
		var u usageErr
		if errors.As(err, &u) {
			return "Invalid command format. " + err.Error()
		}
		return "Command failed: " + err.Error()
	}
}

func formatPending(userID int64, rows []*schedule.ScheduledPost, loc *time.Location) string {
	if len(rows) == 0 {
		return fmt.Sprintf("User %d has no pending scheduled posts.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Pending for user %d</b>\n", userID)
	for _, sp := range rows {
		fmt.Fprintf(&b, "%s post %d <code>%s</code> %s", sp.ScheduledFor.In(loc).Format("Mon 02 Jan 15:04"), sp.PostID, html.EscapeString(sp.ID), sp.Priority)
		if sp.OptimalSlot.Valid {
			fmt.Fprintf(&b, " (%s)", sp.OptimalSlot.String)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatPlan(userID int64, slots []timing.PlannedSlot, loc *time.Location) string {
	if len(slots) == 0 {
		return fmt.Sprintf("No future slots for user %d in that horizon.", userID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Plan for user %d</b>\n", userID)
	for _, s := range slots {
		fmt.Fprintf(&b, "%s %s (%.2f)\n", s.At.In(loc).Format("Mon 02 Jan 15:04"), s.Label, s.Score)
	}
	return b.String()
}

func formatProfile(p *timing.TimingProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Profile for user %d</b>\nConfidence: %s (%d posts)\n", p.UserID, p.Confidence, p.DataPoints)
	if p.SpecialPeriod != "" {
		fmt.Fprintf(&b, "Special period: %s\n", html.EscapeString(p.SpecialPeriod))
	}
	for _, dt := range []timing.DayType{timing.DayTypeWeekday, timing.DayTypeWeekend} {
		fmt.Fprintf(&b, "%s:", dt)
		table := p.Table(dt)
		for _, label := range timing.LabelsFor(dt) {
			if slot, ok := table[label]; ok {
				fmt.Fprintf(&b, " %s %s (%.2f)", label, slot.Clock(), slot.Score)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

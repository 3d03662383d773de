package telegram

import (
	"context"
	"fmt"
	"html"
	"time"

	"post_scheduler/internal/domain/schedule"
	"post_scheduler/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// FailureNotifier posts an operator alert for every scheduled post the execution loop fails.
type FailureNotifier struct {
	client telegram.Client
	chatID int64
	loc    *time.Location
	logger *logrus.Entry
}

func NewFailureNotifier(client telegram.Client, chatID int64, loc *time.Location, logger *logrus.Entry) *FailureNotifier {
	if loc == nil {
		loc = time.UTC
	}
	return &FailureNotifier{client: client, chatID: chatID, loc: loc, logger: logger}
}

func (n *FailureNotifier) NotifyFailure(ctx context.Context, sp *schedule.ScheduledPost, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := FormatFailureAlert(sp, reason, n.loc)
	if err := n.client.SendMessage(n.chatID, text, &telebot.SendOptions{ParseMode: telegram.AlertMode}); err != nil {
		return fmt.Errorf("failed to send failure alert for %s: %w", sp.ID, err)
	}
	n.logger.WithField("scheduled_post_id", sp.ID).Debug("Failure alert sent")
	return nil
}

// FormatFailureAlert renders the HTML alert body.
func FormatFailureAlert(sp *schedule.ScheduledPost, reason string, loc *time.Location) string {
	return fmt.Sprintf(
		"<b>Scheduled post failed</b>\nUser: %d\nPost: %d\nDue: %s\nSchedule: <code>%s</code>\nReason: %s",
		sp.UserID, sp.PostID, sp.ScheduledFor.In(loc).Format("2006-01-02 15:04 MST"),
		html.EscapeString(sp.ID), html.EscapeString(reason),
	)
}

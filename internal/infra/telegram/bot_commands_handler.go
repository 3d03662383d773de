// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const operatorHelp = "Operator commands:\n\n" +
	"/pending <userID> - pending scheduled posts\n" +
	"/cancel <userID> <scheduledPostID> - cancel one pending post\n" +
	"/plan <userID> [days] [perDay] - preview planned slots\n" +
	"/profile <userID> - show the timing profile\n" +
	"/refresh_profile <userID> - rebuild the timing profile\n" +
	"/jobs - list scheduled jobs\n" +
	"/run_job <name> - run a job now\n" +
	"/pause_job <name>, /resume_job <name> - toggle a job\n" +
	"/help - this message"

// RegisterBotCommands registers /start and /help.
func RegisterBotCommands(b *telebot.Bot, operatorID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == operatorID {
			return c.Send("Hello, operator " + c.Sender().FirstName + ". Failure alerts arrive here. Use /help for the command list.")
		}
		return c.Send("This bot reports on the post scheduler and only answers its operator.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID == operatorID {
			return c.Send(strings.TrimSpace(operatorHelp))
		}
		return c.Send("No commands are available to you.")
	})
}

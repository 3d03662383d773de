package telegram

import "gopkg.in/telebot.v3"

// Client sends operator alerts to a Telegram chat.
// The app layer depends on this instead of *telebot.Bot so alerts can be faked in tests.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}

// AlertMode is the parse mode used for alert bodies.
const AlertMode = telebot.ModeHTML

package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Control-plane message types.
const (
	CmdStartBot    = "START_BOT"
	CmdStopBot     = "STOP_BOT"
	CmdSendMessage = "SEND_MESSAGE"
	CmdReloadBots  = "RELOAD_BOTS"

	NotifyNewMessage     = "NEW_MESSAGE"
	NotifyBotStarted     = "BOT_STARTED"
	NotifyBotStopped     = "BOT_STOPPED"
	NotifyBotError       = "BOT_ERROR"
	NotifyTrialExhausted = "TRIAL_EXHAUSTED"
)

// Envelope is the wire frame exchanged with the control plane.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Notification is an outbound frame before encoding.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type StartBotCommand struct {
	BotID    string        `json:"bot_id"`
	BotToken string        `json:"bot_token"`
	Config   SessionConfig `json:"config"`
}

type StopBotCommand struct {
	BotID string `json:"bot_id"`
}

type SendMessageCommand struct {
	BotID          string   `json:"bot_id"`
	TelegramUserID IDString `json:"telegram_user_id"`
	Message        string   `json:"message"`
}

type NewMessagePayload struct {
	BotID            string `json:"bot_id"`
	TelegramUserID   string `json:"telegram_user_id"`
	TelegramUsername string `json:"telegram_username"`
	Message          string `json:"message"`
	MessageCount     int    `json:"message_count"`
}

type BotStartedPayload struct {
	BotID   string `json:"bot_id"`
	BotName string `json:"bot_name"`
}

type BotStoppedPayload struct {
	BotID string `json:"bot_id"`
}

type BotErrorPayload struct {
	BotID string `json:"bot_id"`
	Error string `json:"error"`
}

type TrialExhaustedPayload struct {
	BotID          string `json:"bot_id"`
	TelegramUserID string `json:"telegram_user_id"`
	MessageCount   int    `json:"message_count"`
}

// IDString accepts both JSON strings and numbers; Telegram ids arrive as either.
type IDString string

func (s *IDString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = IDString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*s = IDString(n.String())
	return nil
}

func (s IDString) String() string { return string(s) }

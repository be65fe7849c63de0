package telegram

import (
	"encoding/json"
	"strconv"

	"github.com/iliyamo/phone-signin/internal/botflow"
)

// Update is the subset of a Bot API update the sign-in bot reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	Contact   *Contact `json:"contact"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id"`
}

// DecodeUpdate parses a webhook body into a conversation event. Updates
// without a message (edits, callbacks) yield an event with no chat, which the
// driver ignores.
func DecodeUpdate(data []byte) (botflow.Event, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return botflow.Event{}, err
	}
	return u.Event(), nil
}

// Event maps the update onto the driver's event shapes.
func (u Update) Event() botflow.Event {
	m := u.Message
	if m == nil || m.Chat.ID == 0 {
		return botflow.Event{}
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	var user string
	if m.From != nil {
		user = strconv.FormatInt(m.From.ID, 10)
	}
	if m.Contact != nil {
		var owner string
		if m.Contact.UserID != 0 {
			owner = strconv.FormatInt(m.Contact.UserID, 10)
		}
		return botflow.FromContact(chat, user, m.Contact.PhoneNumber, owner)
	}
	return botflow.FromText(chat, user, m.Text)
}

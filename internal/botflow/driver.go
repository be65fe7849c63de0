// Package botflow drives the bot side of the bot-otp channel: it correlates
// inbound chat events with a pending session and issues codes into it.
package botflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iliyamo/phone-signin/internal/authsession"
	"github.com/iliyamo/phone-signin/internal/logging"
	"github.com/iliyamo/phone-signin/internal/model"
)

// Engine is the slice of the session engine the driver needs.
type Engine interface {
	BindConversation(ctx context.Context, token, chatRef, userRef string) (model.AuthSession, error)
	IssueConversationCode(ctx context.Context, chatRef, phone string) (authsession.IssuedCode, error)
}

// Markup is optional interactive markup attached to a reply.
type Markup struct {
	// RequestContact shows a one-button keyboard that shares the user's phone.
	RequestContact bool
	ButtonText     string
	RemoveKeyboard bool
}

// Notifier sends a message to a chat. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, chatRef, text string, markup *Markup) error
}

// Reply texts.
const (
	MsgShareContact   = "Share your phone number to receive a sign-in code."
	MsgShareButton    = "Share phone number"
	MsgSessionMissing = "This sign-in link is not valid. Please start again from the website."
	MsgSessionExpired = "This sign-in session has expired. Please start again from the website."
	MsgNotBound       = "Open the sign-in link from the website first."
	MsgBadPhone       = "Please send your phone number in international format, for example +971501234567."
	MsgForeignContact = "Please share your own contact."
	MsgRateLimited    = "Too many code requests. Please try again later."
	MsgUsage          = "Open the sign-in link from the website, then share your phone number here."
	MsgFailure        = "Something went wrong. Please try again later."
)

// Driver routes events to the engine and answers through the notifier.
type Driver struct {
	engine   Engine
	notifier Notifier
	log      *slog.Logger
}

func NewDriver(engine Engine, notifier Notifier, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{engine: engine, notifier: notifier, log: log}
}

// Handle processes one event. Business outcomes are answered in the chat and
// return nil; only unexpected engine faults are returned.
func (d *Driver) Handle(ctx context.Context, ev Event) error {
	if ev.ChatRef == "" {
		return nil
	}
	switch ev.Kind {
	case EventStart:
		return d.start(ctx, ev)
	case EventContact:
		if ev.ContactUserRef != "" && ev.UserRef != "" && ev.ContactUserRef != ev.UserRef {
			d.reply(ctx, ev.ChatRef, MsgForeignContact, nil)
			return nil
		}
		return d.phone(ctx, ev.ChatRef, authsession.NormalizeContactPhone(ev.Phone))
	case EventPhoneText:
		return d.phone(ctx, ev.ChatRef, ev.Phone)
	default:
		d.reply(ctx, ev.ChatRef, MsgUsage, nil)
		return nil
	}
}

func (d *Driver) start(ctx context.Context, ev Event) error {
	sess, err := d.engine.BindConversation(ctx, ev.Token, ev.ChatRef, ev.UserRef)
	switch authsession.KindOf(err) {
	case "":
	case authsession.KindExpired:
		d.reply(ctx, ev.ChatRef, MsgSessionExpired, nil)
		return nil
	case authsession.KindNotFound, authsession.KindInvalidInput:
		d.reply(ctx, ev.ChatRef, MsgSessionMissing, nil)
		return nil
	default:
		d.reply(ctx, ev.ChatRef, MsgFailure, nil)
		return err
	}
	d.log.Info("botflow.start.bound", "session_id", sess.ID)
	d.reply(ctx, ev.ChatRef, MsgShareContact, &Markup{RequestContact: true, ButtonText: MsgShareButton})
	return nil
}

func (d *Driver) phone(ctx context.Context, chatRef, phone string) error {
	issued, err := d.engine.IssueConversationCode(ctx, chatRef, phone)
	switch authsession.KindOf(err) {
	case "":
	case authsession.KindNotFound:
		d.reply(ctx, chatRef, MsgNotBound, nil)
		return nil
	case authsession.KindExpired:
		d.reply(ctx, chatRef, MsgSessionExpired, nil)
		return nil
	case authsession.KindInvalidInput:
		d.reply(ctx, chatRef, MsgBadPhone, nil)
		return nil
	case authsession.KindRateLimited:
		d.reply(ctx, chatRef, MsgRateLimited, nil)
		return nil
	default:
		d.reply(ctx, chatRef, MsgFailure, nil)
		return err
	}
	minutes := int(issued.ExpiresIn.Minutes())
	d.reply(ctx, chatRef, CodeMessage(issued.Code, minutes), &Markup{RemoveKeyboard: true})
	return nil
}

// CodeMessage renders the notice that carries a fresh code.
func CodeMessage(code string, minutes int) string {
	return fmt.Sprintf("Your sign-in code: %s\nIt expires in %d minutes.", code, minutes)
}

func (d *Driver) reply(ctx context.Context, chatRef, text string, markup *Markup) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, chatRef, text, markup); err != nil {
		logging.LogError(d.log, "botflow.notify.fail", err, "chat", chatRef)
	}
}

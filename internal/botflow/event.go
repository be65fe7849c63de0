package botflow

import (
	"regexp"
	"strings"
)

// EventKind classifies an inbound conversational event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventStart             // start handshake carrying a correlation token
	EventContact           // shared contact card
	EventPhoneText         // free text that looks like a phone number
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventContact:
		return "contact"
	case EventPhoneText:
		return "phone_text"
	}
	return "unknown"
}

// Event is one inbound message from a chat.
type Event struct {
	Kind    EventKind
	ChatRef string
	UserRef string
	Token   string // EventStart
	Phone   string // EventContact, EventPhoneText
	// ContactUserRef is the account the shared contact belongs to, when the
	// messenger reports it.
	ContactUserRef string
}

var phoneLike = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{6,22}$`)

// FromText classifies a plain text message.
func FromText(chatRef, userRef, text string) Event {
	ev := Event{ChatRef: chatRef, UserRef: userRef}
	text = strings.TrimSpace(text)
	switch {
	case text == "/start" || strings.HasPrefix(text, "/start "):
		token := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
		if token == "" {
			return ev
		}
		ev.Kind, ev.Token = EventStart, token
	case phoneLike.MatchString(text):
		ev.Kind, ev.Phone = EventPhoneText, stripSeparators(text)
	}
	return ev
}

// FromContact builds a contact event.
func FromContact(chatRef, userRef, phone, contactUserRef string) Event {
	return Event{
		Kind:           EventContact,
		ChatRef:        chatRef,
		UserRef:        userRef,
		Phone:          phone,
		ContactUserRef: contactUserRef,
	}
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, s)
}

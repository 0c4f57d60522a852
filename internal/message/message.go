// Package message defines the pipeline's queue vocabulary and decodes
// inbound bodies at the queue boundary, so malformed input fails fast and
// distinctly from downstream store errors.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"labelq/internal/serial"
	"labelq/internal/store"
)

type Command string

const (
	CommandCreate          Command = "create"
	CommandConfirm         Command = "confirm"
	CommandCreateConfirmed Command = "create-confirmed"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
)

// Message is the inbound tagged union. Serials is set for create and
// confirm, PrintRequest for create-confirmed.
type Message struct {
	Command      Command             `json:"command"`
	Serials      []store.Serial      `json:"serials,omitempty"`
	PrintRequest *store.PrintRequest `json:"print_request,omitempty"`
}

// Parse decodes and validates an inbound queue body.
func Parse(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Command {
	case CommandCreate, CommandConfirm:
		return msg, nil
	case CommandCreateConfirmed:
		if msg.PrintRequest == nil {
			return Message{}, fmt.Errorf("%w: create-confirmed without print_request", ErrMalformed)
		}
		// Serials are generated from this gtin, so a bad one would mint
		// unusable identifiers. Creates and confirms carry serials that
		// already exist and pass through as-is.
		if !serial.ValidGTIN(msg.PrintRequest.GTIN) {
			return Message{}, fmt.Errorf("%w: invalid gtin %q", ErrMalformed, msg.PrintRequest.GTIN)
		}
		return msg, nil
	case "":
		return Message{}, fmt.Errorf("%w: missing command", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
}

// Unprocessed carries the per-store subsets of a batch that failed a
// durability check. It only ever holds items from the prior attempt, never
// the original full payload.
type Unprocessed struct {
	Labels []store.Serial      `json:"labels,omitempty"`
	Events []store.PrintRecord `json:"events,omitempty"`
}

func (u Unprocessed) Empty() bool {
	return len(u.Labels) == 0 && len(u.Events) == 0
}

// DeadLetter is the dead-letter queue envelope. FailedAttempts is zero on
// the first publish and omitted from the wire.
type DeadLetter struct {
	Command        Command     `json:"command"`
	Unprocessed    Unprocessed `json:"unprocessed_items"`
	FailedAttempts int         `json:"failed_attempt_number,omitempty"`
}

// ParseDeadLetter decodes a dead-letter queue body.
func ParseDeadLetter(body []byte) (DeadLetter, error) {
	var envelope DeadLetter
	if err := json.Unmarshal(body, &envelope); err != nil {
		return DeadLetter{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch envelope.Command {
	case CommandCreate, CommandConfirm, CommandCreateConfirmed:
	case "":
		return DeadLetter{}, fmt.Errorf("%w: missing command", ErrMalformed)
	default:
		return DeadLetter{}, fmt.Errorf("%w: %q", ErrUnknownCommand, envelope.Command)
	}
	return envelope, nil
}

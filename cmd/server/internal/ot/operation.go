// Package ot implements the operational-transformation algebra for plain
// text documents: insert/delete primitives, application to a buffer, and
// the transform (rebase) function used to reconcile concurrent edits.
package ot

import (
	"errors"
	"fmt"
)

// Kind distinguishes the operation variants. The numeric values are the
// wire encoding: insert=0, delete=1, neutral=2. Neutral never reaches the
// operation log; it only appears when a transform collapses a delete.
type Kind int

const (
	KindInsert  Kind = 0
	KindDelete  Kind = 1
	KindNeutral Kind = 2
)

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindNeutral:
		return "neutral"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	return k == KindInsert || k == KindDelete || k == KindNeutral
}

var (
	// ErrOutOfBounds is returned when an operation's position does not
	// fit the buffer it is applied to.
	ErrOutOfBounds = errors.New("operation out of bounds")
	// ErrTextMismatch is returned when a delete's text does not equal
	// the substring it would remove.
	ErrTextMismatch = errors.New("delete text does not match buffer")
)

// Operation is an immutable text edit. Position is a zero-based byte
// offset into the buffer the operation was generated against. For inserts
// Text is the inserted text; for deletes it is the exact text being
// removed, so that transform arithmetic stays correct after the buffer
// has moved on.
type Operation struct {
	Kind     Kind   `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// Neutral is the identity operation.
var Neutral = Operation{Kind: KindNeutral}

// NewInsert constructs an insert operation.
func NewInsert(position int, text string) Operation {
	return Operation{Kind: KindInsert, Position: position, Text: text}
}

// NewDelete constructs a delete operation.
func NewDelete(position int, text string) Operation {
	return Operation{Kind: KindDelete, Position: position, Text: text}
}

// End returns the exclusive end of the operation's range.
func (op Operation) End() int {
	return op.Position + len(op.Text)
}

// IsNeutral reports whether the operation is the identity.
func (op Operation) IsNeutral() bool {
	return op.Kind == KindNeutral
}

// Apply executes the operation against content and returns the new
// buffer. Deletes verify that the removed substring equals op.Text.
func Apply(op Operation, content string) (string, error) {
	switch op.Kind {
	case KindNeutral:
		return content, nil
	case KindInsert:
		if op.Position < 0 || op.Position > len(content) {
			return "", fmt.Errorf("insert at %d into buffer of %d bytes: %w", op.Position, len(content), ErrOutOfBounds)
		}
		return content[:op.Position] + op.Text + content[op.Position:], nil
	case KindDelete:
		if op.Position < 0 || op.End() > len(content) {
			return "", fmt.Errorf("delete [%d,%d) from buffer of %d bytes: %w", op.Position, op.End(), len(content), ErrOutOfBounds)
		}
		if content[op.Position:op.End()] != op.Text {
			return "", fmt.Errorf("delete at %d: %w", op.Position, ErrTextMismatch)
		}
		return content[:op.Position] + content[op.End():], nil
	default:
		return "", fmt.Errorf("apply: unknown operation kind %d", int(op.Kind))
	}
}

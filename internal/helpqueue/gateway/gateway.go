// Package gateway isolates every chat-platform operation the help queue
// consumes behind one narrow interface, so the coordinator never talks to
// the chat SDK directly.
package gateway

import (
	"context"
	"time"
)

// Gateway is the chat-platform surface the coordinator calls into.
// Channel refs are chat identifiers; message refs identify a message
// within its channel.
type Gateway interface {
	// CreatePrivateChannel opens the private conversation for a request's
	// intake and resolution and returns its channel ref.
	CreatePrivateChannel(ctx context.Context, ownerID int64, participantIDs ...int64) (int64, error)

	// SendMessage posts text to a channel and returns the message ref.
	SendMessage(ctx context.Context, channelRef int64, text string) (int, error)

	// SendPosting posts a live queue entry carrying the claim controls.
	SendPosting(ctx context.Context, channelRef int64, text string) (int, error)

	// EditPosting replaces the rendered body of a live queue entry.
	EditPosting(ctx context.Context, channelRef int64, messageRef int, text string) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, channelRef int64, messageRef int) error

	// DeleteMessageAfter removes a message once delay elapses; used for
	// ephemeral error replies. Fire and forget.
	DeleteMessageAfter(channelRef int64, messageRef int, delay time.Duration)

	// FetchDisplayName resolves a user id to a human-readable name.
	FetchDisplayName(ctx context.Context, userID int64) (string, error)

	// AssignPermission grants a user access to a private channel.
	AssignPermission(ctx context.Context, channelRef int64, userID int64) error

	// AddRole enrolls a user into a class role.
	AddRole(ctx context.Context, userID int64, role string) error
}

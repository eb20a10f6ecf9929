// ABOUTME: Shared contract between chat frontends and the conversation engine
// ABOUTME: Each subpackage turns one platform's traffic into engine.Inbound turns

// Package channels holds the chat frontends. A frontend is both a source of
// inbound messages, which it hands to a Handler, and an engine.Adapter that
// delivers the replies.
//
//	matrix   Matrix rooms through mautrix, including bridged WhatsApp/Telegram rooms
//	webchat  browser chat over a WebSocket
//	webhook  signed HTTP callbacks for external bridge processes
package channels

import (
	"context"

	"github.com/bitsacco/sacco-gateway/internal/engine"
)

// Handler runs a conversation turn. *engine.Engine implements it.
type Handler interface {
	HandleInbound(ctx context.Context, in engine.Inbound)
}

// Channel names reserved by built-in frontends. Webhook channels may not use them.
const (
	Matrix  = "matrix"
	WebChat = "webchat"
)

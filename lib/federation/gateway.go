// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// Gateway fetches events from remote servers. Implementations own
// transport, signing, and retry policy; callers see only events.
// Methods must be safe for concurrent use.
type Gateway interface {
	// FetchEvent retrieves a single event by ID. The implementation
	// decides which server to ask (the Client asks the server named
	// in the event ID).
	FetchEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*event.Event, error)

	// FetchEventAuthChain retrieves the auth chain needed to admit
	// the event: every state event its auth_events cite, transitively,
	// in an order safe to admit front to back.
	FetchEventAuthChain(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) ([]*event.Event, error)
}

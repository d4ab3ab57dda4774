// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bureau-foundation/loom/lib/clock"
	"github.com/bureau-foundation/loom/lib/federation"
	"github.com/bureau-foundation/loom/lib/graph"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/version"
)

// Options configures an API.
type Options struct {
	// Graph admits locally built events and serves DAG queries.
	// Required.
	Graph *graph.Graph

	// Backfiller drives federation transaction admission, resolving
	// missing dependencies through its gateway. Required.
	Backfiller *federation.Backfiller

	// ServerName is this server's name: the domain of generated room
	// IDs and the required domain of room creators. Required.
	ServerName ref.ServerName

	// Clock stamps locally built events. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives request diagnostics. nil discards.
	Logger *slog.Logger
}

// API carries the handler dependencies. Construct with New, mount with
// Router.
type API struct {
	graph      *graph.Graph
	backfiller *federation.Backfiller
	server     ref.ServerName
	clock      clock.Clock
	logger     *slog.Logger
}

// New validates the options and builds an API.
func New(options Options) *API {
	if options.Graph == nil {
		panic("httpapi.API: Graph is required")
	}
	if options.Backfiller == nil {
		panic("httpapi.API: Backfiller is required")
	}
	if options.ServerName.IsZero() {
		panic("httpapi.API: ServerName is required")
	}
	a := &API{
		graph:      options.Graph,
		backfiller: options.Backfiller,
		server:     options.ServerName,
		clock:      options.Clock,
		logger:     options.Logger,
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// Router mounts both API surfaces. The graph logs every admission
// outcome itself, so no request logging middleware is layered on top;
// Recoverer keeps a handler panic from killing the listener.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/_loom/v1", func(r chi.Router) {
		r.Get("/version", a.handleVersion)
		r.Post("/rooms/create", a.handleCreateRoom)
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Post("/send/{eventType}", a.handleSend)
			r.Post("/join", a.handleJoin)
			r.Post("/leave", a.handleLeave)
			r.Post("/invite", a.handleInvite)
			r.Post("/kick", a.handleKick)
			r.Post("/ban", a.handleBan)
			r.Post("/redact/{eventID}", a.handleRedact)
			r.Get("/state", a.handleStateAll)
			r.Get("/state/{eventType}", a.handleStateEvent)
			r.Get("/state/{eventType}/{stateKey}", a.handleStateEvent)
			r.Get("/extremities", a.handleExtremities)
		})
		r.Get("/events/{eventID}", a.handleEvent)
	})

	r.Route("/_loom/federation/v1", func(r chi.Router) {
		r.Put("/send/{txnID}", a.handleTransaction)
		r.Get("/event/{eventID}", a.handleFederationEvent)
		r.Post("/get_missing_events/{roomID}", a.handleMissingEvents)
		r.Get("/backfill/{roomID}", a.handleBackfill)
		r.Get("/state/{roomID}", a.handleFederationState)
	})

	return r
}

// handleVersion handles GET /_loom/v1/version.
func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"server":  a.server.String(),
		"version": version.Short(),
	})
}

// roomIDParam parses the {roomID} URL parameter.
func roomIDParam(r *http.Request) (ref.RoomID, error) {
	return ref.ParseRoomID(chi.URLParam(r, "roomID"))
}

// eventIDParam parses the {eventID} URL parameter.
func eventIDParam(r *http.Request) (ref.EventID, error) {
	return ref.ParseEventID(chi.URLParam(r, "eventID"))
}

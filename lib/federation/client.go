// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/loom/lib/credential"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/netutil"
	"github.com/bureau-foundation/loom/lib/ref"
)

const (
	defaultScheme         = "https"
	defaultFederationPort = 8448
	defaultHTTPTimeout    = 30 * time.Second
)

// ErrNotFound reports that the remote server does not hold the
// requested event.
var ErrNotFound = errors.New("event not found on remote server")

// ClientOptions configures a federation Client.
type ClientOptions struct {
	// Origin is this server's name, placed in the X-Matrix origin
	// field of every outbound request.
	Origin ref.ServerName

	// Key signs outbound requests.
	Key *credential.SigningKey

	// Scheme selects http or https. Defaults to https; plain http is
	// for tests and single-host development setups.
	Scheme string

	// DefaultPort is appended to server names carrying no explicit
	// port. Defaults to 8448.
	DefaultPort int

	// HTTPClient overrides the default transport. Tests point this
	// at httptest servers.
	HTTPClient *http.Client

	// Logger receives fetch diagnostics. nil discards.
	Logger *slog.Logger
}

// Client fetches events from remote servers over the federation HTTP
// surface, signing every request with the server's ed25519 key. The
// destination server is the one named in the requested event ID.
type Client struct {
	origin      ref.ServerName
	key         *credential.SigningKey
	scheme      string
	defaultPort int
	httpClient  *http.Client
	logger      *slog.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient validates the options and builds a Client.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Origin.IsZero() {
		return nil, fmt.Errorf("federation client requires an origin server name")
	}
	if options.Key == nil {
		return nil, fmt.Errorf("federation client requires a signing key")
	}
	client := &Client{
		origin:      options.Origin,
		key:         options.Key,
		scheme:      options.Scheme,
		defaultPort: options.DefaultPort,
		httpClient:  options.HTTPClient,
		logger:      options.Logger,
	}
	switch client.scheme {
	case "":
		client.scheme = defaultScheme
	case "http", "https":
	default:
		return nil, fmt.Errorf("federation scheme %q: must be http or https", client.scheme)
	}
	if client.defaultPort == 0 {
		client.defaultPort = defaultFederationPort
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	return client, nil
}

// FetchEvent retrieves one event from the server named in its ID.
func (c *Client) FetchEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*event.Event, error) {
	uri := "/_loom/federation/v1/event/" + url.PathEscape(eventID.String())
	response, err := c.get(ctx, eventID.Server(), uri)
	if err != nil {
		return nil, fmt.Errorf("fetch event %s: %w", eventID, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch event %s from %s: %w", eventID, eventID.Server(), ErrNotFound)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch event %s: HTTP %d: %s", eventID, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var fetched event.Event
	if err := netutil.DecodeResponse(response.Body, &fetched); err != nil {
		return nil, fmt.Errorf("fetch event %s: %w", eventID, err)
	}
	if fetched.RoomID != roomID {
		return nil, fmt.Errorf("fetch event %s: remote returned an event for room %s, want %s", eventID, fetched.RoomID, roomID)
	}
	c.logger.Debug("fetched remote event",
		"event_id", eventID, "server", eventID.Server().String())
	return &fetched, nil
}

// FetchEventAuthChain retrieves the auth chain for the event via the
// remote state endpoint, which returns the chain oldest-first.
func (c *Client) FetchEventAuthChain(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) ([]*event.Event, error) {
	uri := "/_loom/federation/v1/state/" + url.PathEscape(roomID.String()) +
		"?event_id=" + url.QueryEscape(eventID.String())
	response, err := c.get(ctx, eventID.Server(), uri)
	if err != nil {
		return nil, fmt.Errorf("fetch auth chain of %s: %w", eventID, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch auth chain of %s from %s: %w", eventID, eventID.Server(), ErrNotFound)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch auth chain of %s: HTTP %d: %s", eventID, response.StatusCode, netutil.ErrorBody(response.Body))
	}

	var state StateResponse
	if err := netutil.DecodeResponse(response.Body, &state); err != nil {
		return nil, fmt.Errorf("fetch auth chain of %s: %w", eventID, err)
	}
	c.logger.Debug("fetched remote auth chain",
		"event_id", eventID, "server", eventID.Server().String(), "events", len(state.AuthChain))
	return state.AuthChain, nil
}

// get issues a signed GET to the destination server. uri carries the
// path and query exactly as signed.
func (c *Client) get(ctx context.Context, destination ref.ServerName, uri string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.scheme+"://"+destination.Addr(c.defaultPort)+uri, nil)
	if err != nil {
		return nil, err
	}
	authorization, err := SignRequest(c.key, c.origin, destination, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", authorization)
	return c.httpClient.Do(request)
}

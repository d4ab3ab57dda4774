// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/bureau-foundation/loom/lib/credential"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// testRemote hosts a federation endpoint handler and a client wired
// to reach it. The remote server name routes to the httptest server,
// so event IDs minted with it steer fetches there.
type testRemote struct {
	client *Client
	key    *credential.SigningKey
	name   ref.ServerName
}

func newTestRemote(t *testing.T, handler http.Handler) *testRemote {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}

	key, err := credential.Generate("a0")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	client, err := NewClient(ClientOptions{
		Origin: ref.MustParseServerName("loom.test"),
		Key:    key,
		Scheme: "http",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return &testRemote{client: client, key: key, name: ref.MustParseServerName(parsed.Host)}
}

// verifyRequestSignature checks the X-Matrix header a handler received
// against the test key.
func verifyRequestSignature(t *testing.T, key *credential.SigningKey, r *http.Request, content []byte) {
	t.Helper()
	auth, err := ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		t.Errorf("parsing request authorization: %v", err)
		return
	}
	if got := auth.Origin.String(); got != "loom.test" {
		t.Errorf("request origin = %q, want %q", got, "loom.test")
	}
	if err := auth.Verify(key.Public, r.Method, r.URL.RequestURI(), content); err != nil {
		t.Errorf("verifying request signature: %v", err)
	}
}

func TestFetchEvent(t *testing.T) {
	room := ref.MustParseRoomID("!graph:loom.test")
	var (
		remote *testRemote
		wantID ref.EventID
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyRequestSignature(t, remote.key, r, nil)
		got := strings.TrimPrefix(r.URL.Path, "/_loom/federation/v1/event/")
		if got != wantID.String() {
			t.Errorf("requested event %q, want %q", got, wantID)
		}
		fetched := &event.Event{
			EventID:        wantID,
			RoomID:         room,
			Sender:         ref.MustParseUserID("@alice:loom.test"),
			Type:           event.TypeMessage,
			Content:        json.RawMessage(`{"body":"over the wire"}`),
			PrevEvents:     []ref.EventID{ref.NewEventID("parent", remote.name)},
			AuthEvents:     []ref.EventID{ref.NewEventID("create", remote.name)},
			Depth:          7,
			OriginServerTS: 1700000000000,
		}
		if err := json.NewEncoder(w).Encode(fetched); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	})
	remote = newTestRemote(t, handler)
	wantID = ref.NewEventID("deadbeef", remote.name)

	got, err := remote.client.FetchEvent(t.Context(), room, wantID)
	if err != nil {
		t.Fatalf("FetchEvent failed: %v", err)
	}
	if got.EventID != wantID {
		t.Errorf("fetched event ID = %s, want %s", got.EventID, wantID)
	}
	if got.Type != event.TypeMessage {
		t.Errorf("fetched event type = %q, want %q", got.Type, event.TypeMessage)
	}
	if got.Depth != 7 {
		t.Errorf("fetched event depth = %d, want 7", got.Depth)
	}
}

func TestFetchEventNotFound(t *testing.T) {
	remote := newTestRemote(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	room := ref.MustParseRoomID("!graph:loom.test")

	_, err := remote.client.FetchEvent(t.Context(), room, ref.NewEventID("gone", remote.name))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FetchEvent error = %v, want ErrNotFound", err)
	}
}

func TestFetchEventServerError(t *testing.T) {
	remote := newTestRemote(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage exploded", http.StatusInternalServerError)
	}))
	room := ref.MustParseRoomID("!graph:loom.test")

	_, err := remote.client.FetchEvent(t.Context(), room, ref.NewEventID("broken", remote.name))
	if err == nil {
		t.Fatal("FetchEvent succeeded against a failing server")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("error %q does not include the HTTP status", err)
	}
	if !strings.Contains(err.Error(), "storage exploded") {
		t.Errorf("error %q does not include the response body", err)
	}
}

func TestFetchEventRejectsCrossRoomResponse(t *testing.T) {
	room := ref.MustParseRoomID("!graph:loom.test")
	var (
		remote *testRemote
		wantID ref.EventID
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched := &event.Event{
			EventID: wantID,
			RoomID:  ref.MustParseRoomID("!other:loom.test"),
			Sender:  ref.MustParseUserID("@alice:loom.test"),
			Type:    event.TypeMessage,
			Content: json.RawMessage(`{}`),
			Depth:   1,
		}
		if err := json.NewEncoder(w).Encode(fetched); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	})
	remote = newTestRemote(t, handler)
	wantID = ref.NewEventID("misfiled", remote.name)

	_, err := remote.client.FetchEvent(t.Context(), room, wantID)
	if err == nil || !strings.Contains(err.Error(), "room") {
		t.Fatalf("FetchEvent error = %v, want cross-room rejection", err)
	}
}

func TestFetchEventAuthChain(t *testing.T) {
	room := ref.MustParseRoomID("!graph:loom.test")
	var (
		remote *testRemote
		wantID ref.EventID
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyRequestSignature(t, remote.key, r, nil)
		if !strings.HasPrefix(r.URL.Path, "/_loom/federation/v1/state/") {
			t.Errorf("request path = %q, want a state path", r.URL.Path)
		}
		if got := r.URL.Query().Get("event_id"); got != wantID.String() {
			t.Errorf("event_id query = %q, want %q", got, wantID)
		}
		response := StateResponse{
			AuthChain: []*event.Event{
				{
					EventID: ref.NewEventID("create", remote.name),
					RoomID:  room,
					Sender:  ref.MustParseUserID("@alice:loom.test"),
					Type:    event.TypeCreate,
					Content: json.RawMessage(`{}`),
					Depth:   1,
				},
				{
					EventID: ref.NewEventID("join", remote.name),
					RoomID:  room,
					Sender:  ref.MustParseUserID("@alice:loom.test"),
					Type:    event.TypeMember,
					Content: json.RawMessage(`{"membership":"join"}`),
					Depth:   2,
				},
			},
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	})
	remote = newTestRemote(t, handler)
	wantID = ref.NewEventID("needle", remote.name)

	chain, err := remote.client.FetchEventAuthChain(t.Context(), room, wantID)
	if err != nil {
		t.Fatalf("FetchEventAuthChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain has %d events, want 2", len(chain))
	}
	if chain[0].Type != event.TypeCreate || chain[1].Type != event.TypeMember {
		t.Errorf("chain types = %s, %s; want create then member", chain[0].Type, chain[1].Type)
	}
}

func TestNewClientValidation(t *testing.T) {
	key, err := credential.Generate("a0")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	origin := ref.MustParseServerName("loom.test")

	if _, err := NewClient(ClientOptions{Key: key}); err == nil {
		t.Error("NewClient accepted a missing origin")
	}
	if _, err := NewClient(ClientOptions{Origin: origin}); err == nil {
		t.Error("NewClient accepted a missing signing key")
	}
	if _, err := NewClient(ClientOptions{Origin: origin, Key: key, Scheme: "gopher"}); err == nil {
		t.Error("NewClient accepted an unsupported scheme")
	}
}

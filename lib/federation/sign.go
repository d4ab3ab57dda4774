// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/bureau-foundation/loom/lib/credential"
	"github.com/bureau-foundation/loom/lib/ref"
)

const authScheme = "X-Matrix"

// signedRequest is the JSON object whose canonical form is signed.
// Field order is irrelevant; RFC 8785 sorts keys before signing.
type signedRequest struct {
	Content     json.RawMessage `json:"content,omitempty"`
	Destination string          `json:"destination"`
	Method      string          `json:"method"`
	Origin      string          `json:"origin"`
	URI         string          `json:"uri"`
}

func signingBytes(origin, destination ref.ServerName, method, uri string, content []byte) ([]byte, error) {
	payload := signedRequest{
		Destination: destination.String(),
		Method:      method,
		Origin:      origin.String(),
		URI:         uri,
	}
	if len(content) > 0 {
		payload.Content = json.RawMessage(content)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request signing payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing request signing payload: %w", err)
	}
	return canonical, nil
}

// SignRequest produces the Authorization header value for an outbound
// federation request: an ed25519 signature over the canonical JSON of
// the method, URI (path and query), origin, destination, and body.
func SignRequest(key *credential.SigningKey, origin, destination ref.ServerName, method, uri string, content []byte) (string, error) {
	canonical, err := signingBytes(origin, destination, method, uri, content)
	if err != nil {
		return "", err
	}
	signature := base64.RawStdEncoding.EncodeToString(key.Sign(canonical))
	return fmt.Sprintf(`%s origin="%s",destination="%s",key="%s",sig="%s"`,
		authScheme, origin, destination, key.ID(), signature), nil
}

// Authorization is a parsed X-Matrix Authorization header.
type Authorization struct {
	Origin      ref.ServerName
	Destination ref.ServerName
	KeyID       string
	Signature   []byte
}

// ParseAuthorization parses an X-Matrix Authorization header value.
// Unknown parameters are ignored; origin, destination, key, and sig
// are required.
func ParseAuthorization(header string) (*Authorization, error) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || scheme != authScheme {
		return nil, fmt.Errorf("authorization scheme is not %s", authScheme)
	}

	auth := &Authorization{}
	for _, part := range strings.Split(rest, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("malformed authorization parameter %q", part)
		}
		value, ok = unquote(value)
		if !ok {
			return nil, fmt.Errorf("authorization parameter %s is not quoted", name)
		}
		switch name {
		case "origin":
			origin, err := ref.ParseServerName(value)
			if err != nil {
				return nil, fmt.Errorf("authorization origin: %w", err)
			}
			auth.Origin = origin
		case "destination":
			destination, err := ref.ParseServerName(value)
			if err != nil {
				return nil, fmt.Errorf("authorization destination: %w", err)
			}
			auth.Destination = destination
		case "key":
			if !strings.HasPrefix(value, "ed25519:") {
				return nil, fmt.Errorf("unsupported signing key %q", value)
			}
			auth.KeyID = value
		case "sig":
			signature, err := base64.RawStdEncoding.DecodeString(value)
			if err != nil {
				return nil, fmt.Errorf("decoding authorization signature: %w", err)
			}
			auth.Signature = signature
		}
	}

	if auth.Origin.IsZero() || auth.Destination.IsZero() || auth.KeyID == "" || len(auth.Signature) == 0 {
		return nil, fmt.Errorf("authorization header missing origin, destination, key, or sig")
	}
	return auth, nil
}

// Verify checks the header's signature over the given request using
// the origin server's public key.
func (a *Authorization) Verify(public ed25519.PublicKey, method, uri string, content []byte) error {
	canonical, err := signingBytes(a.Origin, a.Destination, method, uri, content)
	if err != nil {
		return err
	}
	if !ed25519.Verify(public, canonical, a.Signature) {
		return fmt.Errorf("signature verification failed for origin %s key %s", a.Origin, a.KeyID)
	}
	return nil
}

func unquote(value string) (string, bool) {
	inner, ok := strings.CutPrefix(value, `"`)
	if !ok {
		return "", false
	}
	inner, ok = strings.CutSuffix(inner, `"`)
	if !ok {
		return "", false
	}
	return inner, true
}

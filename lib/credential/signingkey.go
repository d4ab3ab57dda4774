// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const keyAlgorithm = "ed25519"

// SigningKey is a named ed25519 server signing key.
type SigningKey struct {
	// Version names this key within the server's key namespace.
	// Versions are restricted to [A-Za-z0-9_] so they can appear in
	// signature identifiers and query parameters unescaped.
	Version string

	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a new signing key with the given version.
func Generate(version string) (*SigningKey, error) {
	if !validVersion(version) {
		return nil, fmt.Errorf("invalid key version %q: must be non-empty [A-Za-z0-9_]", version)
	}
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &SigningKey{Version: version, Public: public, Private: private}, nil
}

// ID returns the signature identifier for this key, "ed25519:<version>".
func (k *SigningKey) ID() string {
	return keyAlgorithm + ":" + k.Version
}

// Sign signs the message with the private key.
func (k *SigningKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// EncodedPublic returns the unpadded base64 public key, the form
// published to other servers for signature verification.
func (k *SigningKey) EncodedPublic() string {
	return base64.RawStdEncoding.EncodeToString(k.Public)
}

// Save writes the key file with 0600 permissions. The seed alone is
// stored; the full private key is rederived on load.
func (k *SigningKey) Save(path string) error {
	seed := k.Private.Seed()
	line := fmt.Sprintf("%s %s %s\n", keyAlgorithm, k.Version, base64.RawStdEncoding.EncodeToString(seed))
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}
	return nil
}

// Load reads a signing key file. The first non-empty, non-comment
// line must hold an ed25519 key entry.
func Load(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	key, err := parseKeyFile(data)
	if err != nil {
		return nil, fmt.Errorf("signing key %s: %w", path, err)
	}
	return key, nil
}

// LoadOrGenerate loads the key at path, or generates and saves a new
// one when the file does not exist. Returns whether the key was newly
// generated. A file that exists but cannot be parsed is an error, not
// a regeneration trigger.
func LoadOrGenerate(path, version string) (*SigningKey, bool, error) {
	key, err := Load(path)
	if err == nil {
		return key, false, nil
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil, false, err
	}

	key, err = Generate(version)
	if err != nil {
		return nil, false, err
	}
	if err := key.Save(path); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func parseKeyFile(data []byte) (*SigningKey, error) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed key line: want \"ed25519 <version> <seed>\", got %d fields", len(fields))
		}
		if fields[0] != keyAlgorithm {
			return nil, fmt.Errorf("unsupported key algorithm %q", fields[0])
		}
		if !validVersion(fields[1]) {
			return nil, fmt.Errorf("invalid key version %q", fields[1])
		}
		seed, err := base64.RawStdEncoding.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("decoding key seed: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
		}
		private := ed25519.NewKeyFromSeed(seed)
		return &SigningKey{
			Version: fields[1],
			Public:  private.Public().(ed25519.PublicKey),
			Private: private,
		}, nil
	}
	return nil, fmt.Errorf("no key entry found")
}

func validVersion(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomdef

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
)

//go:embed presets/*.jsonc
var presetFiles embed.FS

// ErrUnknownPreset is returned by Preset for names with no embedded
// definition.
var ErrUnknownPreset = errors.New("unknown room preset")

// Preset returns the embedded definition with the given name.
func Preset(name string) (*Definition, error) {
	data, err := presetFiles.ReadFile("presets/" + name + ".jsonc")
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, ErrUnknownPreset)
	}

	definition, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", name, err)
	}

	return definition, nil
}

// Names returns the embedded preset names, sorted.
func Names() []string {
	entries, err := fs.ReadDir(presetFiles, "presets")
	if err != nil {
		// The directory is embedded at build time.
		panic(fmt.Sprintf("roomdef: reading embedded presets: %v", err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, NameFromPath(entry.Name()))
	}
	slices.Sort(names)
	return names
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// styles carries the table rendering styles, bound to stdout's color
// capabilities. Piped output gets no escape codes.
type styles struct {
	header lipgloss.Style
	faint  lipgloss.Style
}

func newStyles() styles {
	profile := termenv.Ascii
	if term.IsTerminal(int(os.Stdout.Fd())) {
		profile = termenv.ColorProfile()
	}
	renderer := lipgloss.NewRenderer(os.Stdout, termenv.WithProfile(profile))
	return styles{
		header: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		faint:  renderer.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// table accumulates rows and renders them with each column sized to
// its widest cell. Styling is applied after padding, so colored and
// plain output align identically.
type table struct {
	columns []string
	rows    [][]string
	faint   map[int]bool
}

func newTable(columns ...string) *table {
	return &table{columns: columns, faint: make(map[int]bool)}
}

// markFaint dims the given columns. Long identifier columns read
// better when they recede behind the semantic ones.
func (t *table) markFaint(indices ...int) {
	for _, index := range indices {
		t.faint[index] = true
	}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer, st styles) error {
	if len(t.rows) == 0 {
		_, err := io.WriteString(w, st.faint.Render("(none)")+"\n")
		return err
	}

	widths := make([]int, len(t.columns))
	for i, column := range t.columns {
		widths[i] = len(column)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, column := range t.columns {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(st.header.Render(pad(column, widths[i], i == len(t.columns)-1)))
	}
	b.WriteByte('\n')
	for _, row := range t.rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			padded := pad(cell, widths[i], i == len(row)-1)
			if t.faint[i] {
				padded = st.faint.Render(padded)
			}
			b.WriteString(padded)
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// pad right-pads to width; the last column stays unpadded to avoid
// trailing whitespace.
func pad(s string, width int, last bool) string {
	if last || len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

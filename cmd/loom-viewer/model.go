// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
)

// mode identifies which view is active.
type mode int

const (
	// modeRooms shows the room selector.
	modeRooms mode = iota
	// modeRoom shows one room: event list plus detail pane.
	modeRoom
)

// focusRegion identifies which pane receives navigation keys.
type focusRegion int

const (
	focusList focusRegion = iota
	focusDetail
)

// roomEntry is one row of the room selector.
type roomEntry struct {
	roomID      ref.RoomID
	extremities int
	maxDepth    int64
}

// roomsLoadedMsg delivers the room selector contents.
type roomsLoadedMsg struct {
	rooms []roomEntry
}

// roomLoadedMsg delivers one room's event list and frontier.
type roomLoadedMsg struct {
	roomID     ref.RoomID
	events     []*event.Event
	extremities map[ref.EventID]bool
}

// loadErrMsg delivers a store read failure to the status bar.
type loadErrMsg struct {
	err error
}

// theme carries the viewer's lipgloss styles.
type theme struct {
	title    lipgloss.Style
	selected lipgloss.Style
	faint    lipgloss.Style
	label    lipgloss.Style
	frontier lipgloss.Style
	errText  lipgloss.Style
	focused  lipgloss.Style
	blurred  lipgloss.Style
}

func newTheme() theme {
	return theme{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		selected: lipgloss.NewStyle().Reverse(true),
		faint:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		label:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110")),
		frontier: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		focused:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("75")),
		blurred:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")),
	}
}

// model is the top-level bubbletea model.
type model struct {
	store *eventstore.Badger
	limit int
	keys  keyMap
	theme theme

	width  int
	height int
	ready  bool

	mode   mode
	status string

	// Room selector state.
	rooms      []roomEntry
	roomCursor int

	// Room view state.
	roomID       ref.RoomID
	events       []*event.Event
	extremities  map[ref.EventID]bool
	cursor       int
	scrollOffset int
	focus        focusRegion
	detail       viewport.Model
}

func newModel(store *eventstore.Badger, roomID ref.RoomID, limit int) model {
	m := model{
		store: store,
		limit: limit,
		keys:  defaultKeyMap,
		theme: newTheme(),
	}
	if !roomID.IsZero() {
		m.mode = modeRoom
		m.roomID = roomID
	}
	return m
}

func (m model) Init() tea.Cmd {
	if m.mode == modeRoom {
		return m.loadRoom(m.roomID)
	}
	return m.loadRooms()
}

// loadRooms reads the room selector rows: every room with its frontier
// size and deepest extremity.
func (m model) loadRooms() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx := context.Background()
		roomIDs, err := store.Rooms(ctx)
		if err != nil {
			return loadErrMsg{err}
		}
		rooms := make([]roomEntry, 0, len(roomIDs))
		for _, roomID := range roomIDs {
			ids, err := store.ForwardExtremities(ctx, roomID)
			if err != nil {
				return loadErrMsg{err}
			}
			entry := roomEntry{roomID: roomID, extremities: len(ids)}
			for _, id := range ids {
				e, err := store.Event(ctx, id)
				if err != nil {
					return loadErrMsg{err}
				}
				entry.maxDepth = max(entry.maxDepth, e.Depth)
			}
			rooms = append(rooms, entry)
		}
		return roomsLoadedMsg{rooms: rooms}
	}
}

// loadRoom reads a room's events in depth order plus its frontier.
func (m model) loadRoom(roomID ref.RoomID) tea.Cmd {
	store := m.store
	limit := m.limit
	return func() tea.Msg {
		ctx := context.Background()
		events, err := store.EventsByDepthRange(ctx, roomID, 0, math.MaxInt64, limit)
		if err != nil {
			return loadErrMsg{err}
		}
		ids, err := store.ForwardExtremities(ctx, roomID)
		if err != nil {
			return loadErrMsg{err}
		}
		frontier := make(map[ref.EventID]bool, len(ids))
		for _, id := range ids {
			frontier[id] = true
		}
		return roomLoadedMsg{roomID: roomID, events: events, extremities: frontier}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.detail = viewport.New(m.detailWidth(), m.paneHeight())
		m.refreshDetail()
		return m, nil

	case roomsLoadedMsg:
		m.rooms = msg.rooms
		if m.roomCursor >= len(m.rooms) {
			m.roomCursor = max(0, len(m.rooms)-1)
		}
		m.status = ""
		return m, nil

	case roomLoadedMsg:
		m.mode = modeRoom
		m.roomID = msg.roomID
		m.events = msg.events
		m.extremities = msg.extremities
		if m.cursor >= len(m.events) {
			m.cursor = max(0, len(m.events)-1)
		}
		m.status = ""
		m.refreshDetail()
		return m, nil

	case loadErrMsg:
		m.status = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if key.Matches(msg, m.keys.Reload) {
		if m.mode == modeRoom {
			return m, m.loadRoom(m.roomID)
		}
		return m, m.loadRooms()
	}

	if m.mode == modeRooms {
		switch {
		case key.Matches(msg, m.keys.Up):
			m.roomCursor = max(0, m.roomCursor-1)
		case key.Matches(msg, m.keys.Down):
			m.roomCursor = min(len(m.rooms)-1, m.roomCursor+1)
		case key.Matches(msg, m.keys.Home):
			m.roomCursor = 0
		case key.Matches(msg, m.keys.End):
			m.roomCursor = max(0, len(m.rooms)-1)
		case key.Matches(msg, m.keys.Open):
			if m.roomCursor < len(m.rooms) {
				m.cursor = 0
				m.scrollOffset = 0
				m.focus = focusList
				return m, m.loadRoom(m.rooms[m.roomCursor].roomID)
			}
		}
		return m, nil
	}

	// Room view.
	switch {
	case key.Matches(msg, m.keys.Back):
		m.mode = modeRooms
		return m, m.loadRooms()
	case key.Matches(msg, m.keys.FocusToggle):
		if m.focus == focusList {
			m.focus = focusDetail
		} else {
			m.focus = focusList
		}
	case key.Matches(msg, m.keys.Parent):
		m.jumpToParent()
	case m.focus == focusDetail:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)
	case key.Matches(msg, m.keys.PageUp):
		m.moveCursor(-m.pageSize())
	case key.Matches(msg, m.keys.PageDown):
		m.moveCursor(m.pageSize())
	case key.Matches(msg, m.keys.Home):
		m.moveCursor(-len(m.events))
	case key.Matches(msg, m.keys.End):
		m.moveCursor(len(m.events))
	}
	return m, nil
}

func (m *model) moveCursor(delta int) {
	if len(m.events) == 0 {
		return
	}
	m.cursor = max(0, min(len(m.events)-1, m.cursor+delta))
	visible := m.pageSize()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+visible {
		m.scrollOffset = m.cursor - visible + 1
	}
	m.refreshDetail()
}

// jumpToParent moves the cursor to the selected event's first parent,
// when the parent is in the loaded window.
func (m *model) jumpToParent() {
	if m.cursor >= len(m.events) {
		return
	}
	parents := m.events[m.cursor].PrevEvents
	if len(parents) == 0 {
		return
	}
	target := parents[0]
	index := slices.IndexFunc(m.events, func(e *event.Event) bool {
		return e.EventID == target
	})
	if index < 0 {
		m.status = fmt.Sprintf("parent %s is outside the loaded window", target)
		return
	}
	m.moveCursor(index - m.cursor)
}

// refreshDetail re-renders the detail pane for the selected event.
func (m *model) refreshDetail() {
	if !m.ready || m.mode != modeRoom || m.cursor >= len(m.events) {
		return
	}
	m.detail.Width = m.detailWidth()
	m.detail.Height = m.paneHeight()
	m.detail.SetContent(m.renderDetail(m.events[m.cursor]))
	m.detail.GotoTop()
}

// renderDetail builds the detail pane text: header fields, DAG links,
// content, and the admission-time state snapshot.
func (m *model) renderDetail(e *event.Event) string {
	var b strings.Builder
	field := func(name, value string) {
		b.WriteString(m.theme.label.Render(name))
		b.WriteString(" ")
		b.WriteString(value)
		b.WriteString("\n")
	}

	field("event_id ", e.EventID.String())
	field("type     ", e.Type)
	if e.StateKey != nil {
		field("state_key", strconv.Quote(*e.StateKey))
	}
	field("sender   ", e.Sender.String())
	field("depth    ", strconv.FormatInt(e.Depth, 10))
	field("origin_ts", time.UnixMilli(e.OriginServerTS).UTC().Format(time.RFC3339))
	if m.extremities[e.EventID] {
		b.WriteString(m.theme.frontier.Render("forward extremity"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.label.Render("prev_events"))
	b.WriteString("\n")
	if len(e.PrevEvents) == 0 {
		b.WriteString(m.theme.faint.Render("  (none — root event)"))
		b.WriteString("\n")
	}
	for _, id := range e.PrevEvents {
		b.WriteString("  " + id.String() + "\n")
	}
	b.WriteString(m.theme.label.Render("auth_events"))
	b.WriteString("\n")
	for _, id := range e.AuthEvents {
		b.WriteString("  " + id.String() + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.label.Render("content"))
	b.WriteString("\n")
	b.WriteString(indentJSON(e.Content, m.theme.faint))

	b.WriteString("\n")
	b.WriteString(m.theme.label.Render("state after this event"))
	b.WriteString("\n")
	snapshot, err := m.store.StateSnapshot(context.Background(), e.EventID)
	if err != nil {
		b.WriteString(m.theme.faint.Render("  (no snapshot stored)"))
		b.WriteString("\n")
	} else {
		for _, slot := range event.SortedSlots(snapshot) {
			b.WriteString("  " + slot.String() + " → " + m.theme.faint.Render(snapshot[slot].String()) + "\n")
		}
	}
	return b.String()
}

// indentJSON pretty-prints a raw content blob, falling back to the
// raw bytes when they do not parse.
func indentJSON(raw json.RawMessage, fallbackStyle lipgloss.Style) string {
	var buf strings.Builder
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fallbackStyle.Render("  "+string(raw)) + "\n"
	}
	encoded, err := json.MarshalIndent(decoded, "  ", "  ")
	if err != nil {
		return fallbackStyle.Render("  "+string(raw)) + "\n"
	}
	buf.WriteString("  ")
	buf.Write(encoded)
	buf.WriteString("\n")
	return buf.String()
}

func (m model) View() string {
	if !m.ready {
		return "loading…"
	}
	if m.mode == modeRooms {
		return m.viewRooms()
	}
	return m.viewRoom()
}

func (m model) viewRooms() string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("loom rooms"))
	b.WriteString("\n\n")
	if len(m.rooms) == 0 {
		b.WriteString(m.theme.faint.Render("(no rooms in store)"))
		b.WriteString("\n")
	}
	for index, room := range m.rooms {
		line := fmt.Sprintf("%-50s  %d extremities  depth %d",
			room.roomID, room.extremities, room.maxDepth)
		if index == m.roomCursor {
			line = m.theme.selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.statusLine("Enter open · r reload · q quit"))
	return b.String()
}

func (m model) viewRoom() string {
	listWidth := m.listWidth()
	var rows []string
	visible := m.pageSize()
	end := min(len(m.events), m.scrollOffset+visible)
	for index := m.scrollOffset; index < end; index++ {
		e := m.events[index]
		marker := " "
		if m.extremities[e.EventID] {
			marker = m.theme.frontier.Render("●")
		}
		label := fmt.Sprintf("%4d %s %-24s %s", e.Depth, marker, truncate(e.Type, 24), truncate(e.Sender.String(), listWidth-32))
		if index == m.cursor {
			label = m.theme.selected.Render(label)
		}
		rows = append(rows, label)
	}
	for len(rows) < visible {
		rows = append(rows, "")
	}

	listStyle := m.theme.blurred
	detailStyle := m.theme.focused
	if m.focus == focusList {
		listStyle, detailStyle = detailStyle, listStyle
	}
	listPane := listStyle.Width(listWidth).Render(strings.Join(rows, "\n"))
	detailPane := detailStyle.Width(m.detailWidth()).Render(m.detail.View())

	var b strings.Builder
	b.WriteString(m.theme.title.Render(m.roomID.String()))
	b.WriteString(m.theme.faint.Render(fmt.Sprintf("  %d events", len(m.events))))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane))
	b.WriteString("\n")
	b.WriteString(m.statusLine("Tab pane · p parent · Esc rooms · r reload · q quit"))
	return b.String()
}

func (m model) statusLine(help string) string {
	if m.status != "" {
		return m.theme.errText.Render(m.status)
	}
	return m.theme.faint.Render(help)
}

func (m model) listWidth() int {
	return max(30, m.width*2/5)
}

func (m model) detailWidth() int {
	// Border frames cost two columns per pane.
	return max(20, m.width-m.listWidth()-4)
}

func (m model) paneHeight() int {
	// Title, status line, and the pane borders.
	return max(3, m.height-4)
}

func (m model) pageSize() int {
	return m.paneHeight()
}

func truncate(s string, width int) string {
	if width <= 1 || len(s) <= width {
		return s
	}
	return s[:width-1] + "…"
}

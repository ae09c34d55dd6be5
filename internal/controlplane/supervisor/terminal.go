package supervisor

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// TerminalSnapshot holds a headless terminal emulator fed with a pty's raw
// byte stream, used to reconstruct readable session output for replay and
// diagnostics without a real terminal attached.
type TerminalSnapshot struct {
	mu         sync.Mutex
	term       vt10x.Terminal
	cols, rows int
}

// NewTerminalSnapshot creates a headless cols x rows terminal emulator.
func NewTerminalSnapshot(cols, rows int) *TerminalSnapshot {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &TerminalSnapshot{term: vt10x.New(vt10x.WithSize(cols, rows)), cols: cols, rows: rows}
}

// Feed writes raw pty bytes into the terminal emulator.
func (t *TerminalSnapshot) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.term.Write(data)
}

// Resize updates the emulator's dimensions.
func (t *TerminalSnapshot) Resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.term.Resize(cols, rows)
	t.cols, t.rows = cols, rows
}

// Lines returns the visible screen content as plain text lines, trimmed of
// trailing blank cells.
func (t *TerminalSnapshot) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := make([]string, 0, t.rows)
	for row := 0; row < t.rows; row++ {
		var sb strings.Builder
		for col := 0; col < t.cols; col++ {
			glyph := t.term.Cell(col, row)
			if glyph.Char == 0 {
				sb.WriteRune(' ')
				continue
			}
			sb.WriteRune(glyph.Char)
		}
		lines = append(lines, strings.TrimRight(sb.String(), " "))
	}
	return lines
}

package jinjagen

import (
	"fmt"
	"io"
	"strings"
)

// previewLen bounds the rendered text shown per trace entry, in runes.
const previewLen = 120

// TraceEntry is one render call: what was rendered, its text and the calls
// it made.
type TraceEntry struct {
	Label    string
	Rendered string
	// Lines is the number of newlines in Rendered, the output lines the
	// call spans past its first.
	Lines    int
	Children []*TraceEntry

	parent *TraceEntry
}

// Tracer records the render call tree. Enter pushes an entry under the
// current one; Exit records its output and pops it.
type Tracer struct {
	roots   []*TraceEntry
	current *TraceEntry
}

// NewTracer returns an empty tracer.
func NewTracer() *Tracer { return &Tracer{} }

// Enter starts a call labelled label.
func (t *Tracer) Enter(label string) *TraceEntry {
	e := &TraceEntry{Label: label, parent: t.current}
	if t.current != nil {
		t.current.Children = append(t.current.Children, e)
	} else {
		t.roots = append(t.roots, e)
	}
	t.current = e
	return e
}

// Exit ends the call e with its rendered output.
func (t *Tracer) Exit(e *TraceEntry, rendered string) {
	e.Rendered = rendered
	e.Lines = strings.Count(rendered, "\n")
	t.current = e.parent
}

// Roots returns the top-level calls.
func (t *Tracer) Roots() []*TraceEntry { return t.roots }

// Show writes the entries whose output lies within [line-window,
// line+window], nested like the calls that produced them. Lines start at 1.
func (t *Tracer) Show(w io.Writer, line, window int) {
	start := max(0, line-window)
	stop := line + window
	fmt.Fprintf(w, "trace from line %d to %d:", start, stop)
	at := 1
	for _, e := range t.roots {
		at = max(at, e.show(w, at, start, stop, 0))
	}
	fmt.Fprintln(w)
}

const traceIndent = 2

func tracePadding(line, level int) string {
	return fmt.Sprintf("\n%-10d%s", line, strings.Repeat(" ", traceIndent*level))
}

// show prints e if it starts at or after start and ends at or before stop,
// then its children, and returns the line following e.
func (e *TraceEntry) show(w io.Writer, line, start, stop, level int) int {
	if line > stop {
		return line
	}
	display := line >= start && line+e.Lines <= stop
	childLevel := level
	if display {
		fmt.Fprintf(w, "%s%s(lines=%d, text=%q..., children=[", tracePadding(line, level), e.Label, e.Lines, preview(e.Rendered))
		childLevel++
	}
	childLine := line
	for i, c := range e.Children {
		if i > 0 && display {
			io.WriteString(w, ", ")
		}
		childLine = max(childLine, c.show(w, childLine, start, stop, childLevel))
	}
	if display {
		io.WriteString(w, tracePadding(childLine, level)+"])")
	}
	return line + e.Lines
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > previewLen {
		r = r[:previewLen]
	}
	return string(r)
}

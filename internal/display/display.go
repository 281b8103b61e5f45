// Package display provides the text elements a poll session writes to: an
// in-memory element for embedding and tests, and a terminal line rendered with
// lipgloss.
package display

import (
	"sync"
)

// Element is a single mutable text node. The zero value is ready to use.
type Element struct {
	mu      sync.Mutex
	text    string
	history []string
}

// SetText replaces the element's text.
func (e *Element) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
	e.history = append(e.history, text)
}

// Text returns the current text.
func (e *Element) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// History returns every text the element has shown, oldest first.
func (e *Element) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...)
}

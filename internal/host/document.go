// Package host provides documents for arbor: an in-memory TextDocument
// built from LSP items and a Workspace that backs documents with files on
// disk and reports their changes.
package host

import (
	"bytes"
	"fmt"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/position"
)

// TextDocument is an open document held in memory. It is safe for
// concurrent use.
type TextDocument struct {
	uri        protocol.DocumentURI
	languageID protocol.LanguageIdentifier

	mu      sync.RWMutex
	version int32
	text    []byte
}

// NewTextDocument opens item.
func NewTextDocument(item protocol.TextDocumentItem) *TextDocument {
	return &TextDocument{
		uri:        item.URI,
		languageID: item.LanguageID,
		version:    item.Version,
		text:       []byte(item.Text),
	}
}

func (d *TextDocument) URI() protocol.DocumentURI { return d.uri }

func (d *TextDocument) LanguageID() protocol.LanguageIdentifier { return d.languageID }

// Version increases with every change.
func (d *TextDocument) Version() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Text returns a copy of the current content.
func (d *TextDocument) Text() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return bytes.Clone(d.text)
}

// SetText replaces the whole content.
func (d *TextDocument) SetText(text []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = bytes.Clone(text)
	d.version++
}

// Change is one content change. A nil Range replaces the whole document.
type Change struct {
	Range *protocol.Range
	Text  string
}

// Apply applies changes in order. Ranges are in the coordinates of the
// content as left by the previous change. Either every change applies or
// none does.
func (d *TextDocument) Apply(changes ...Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := d.text
	for i, c := range changes {
		if c.Range == nil {
			text = []byte(c.Text)
			continue
		}
		if position.Less(c.Range.End, c.Range.Start) {
			return fmt.Errorf("host: change %d: range end %d:%d before start %d:%d", i,
				c.Range.End.Line, c.Range.End.Character, c.Range.Start.Line, c.Range.Start.Character)
		}
		start := position.Offset(text, c.Range.Start)
		end := position.Offset(text, c.Range.End)
		next := make([]byte, 0, len(text)-(end-start)+len(c.Text))
		next = append(next, text[:start]...)
		next = append(next, c.Text...)
		next = append(next, text[end:]...)
		text = next
	}
	if len(changes) > 0 {
		d.text = text
		d.version++
	}
	return nil
}

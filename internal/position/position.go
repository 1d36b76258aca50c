// Package position converts between host (LSP) coordinates and tree-sitter
// points. Host characters are counted in UTF-8 bytes, which is what
// tree-sitter reports for columns, so the conversions are pure and need no
// access to document text.
package position

import (
	"bytes"
	"math"

	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"
)

// MaxPoint is the largest representable point. Query windows that are open
// on the right end here.
var MaxPoint = sitter.Point{Row: math.MaxUint32, Column: math.MaxUint32}

// ToPoint converts a host position to a tree-sitter point.
func ToPoint(p protocol.Position) sitter.Point {
	return sitter.Point{Row: p.Line, Column: p.Character}
}

// FromPoint converts a tree-sitter point to a host position.
func FromPoint(pt sitter.Point) protocol.Position {
	return protocol.Position{Line: pt.Row, Character: pt.Column}
}

// ToRange converts a tree-sitter range to a host range.
//
// A range whose start and end byte offsets are equal is zero-width: the
// result has End == Start regardless of the end point the engine reported.
// The result never has its end before its start.
func ToRange(r sitter.Range) protocol.Range {
	start := FromPoint(r.StartPoint)
	if r.EndByte <= r.StartByte {
		return protocol.Range{Start: start, End: start}
	}
	end := FromPoint(r.EndPoint)
	if Less(end, start) {
		end = start
	}
	return protocol.Range{Start: start, End: end}
}

// FromRange converts a host range to a pair of tree-sitter points.
func FromRange(r protocol.Range) (sitter.Point, sitter.Point) {
	return ToPoint(r.Start), ToPoint(r.End)
}

// NodeRange returns the host range covered by n.
func NodeRange(n *sitter.Node) protocol.Range {
	if n == nil {
		return protocol.Range{}
	}
	return ToRange(sitter.Range{
		StartPoint: n.StartPoint(),
		EndPoint:   n.EndPoint(),
		StartByte:  n.StartByte(),
		EndByte:    n.EndByte(),
	})
}

// Less reports whether a is before b.
func Less(a, b protocol.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// Contains reports whether p falls inside r, end inclusive.
func Contains(r protocol.Range, p protocol.Position) bool {
	return !Less(p, r.Start) && !Less(r.End, p)
}

// PointAt returns the point of byte offset off in src. Offsets past the end
// are clamped.
func PointAt(src []byte, off int) sitter.Point {
	if off > len(src) {
		off = len(src)
	}
	head := src[:off]
	row := bytes.Count(head, []byte{'\n'})
	col := off - (bytes.LastIndexByte(head, '\n') + 1)
	return sitter.Point{Row: uint32(row), Column: uint32(col)}
}

// Offset returns the byte offset of p in src. Lines past the end clamp to
// len(src); characters past the end of a line clamp to the line end.
func Offset(src []byte, p protocol.Position) int {
	off := 0
	for line := uint32(0); line < p.Line; line++ {
		i := bytes.IndexByte(src[off:], '\n')
		if i < 0 {
			return len(src)
		}
		off += i + 1
	}
	end := len(src)
	if i := bytes.IndexByte(src[off:], '\n'); i >= 0 {
		end = off + i
	}
	if off+int(p.Character) > end {
		return end
	}
	return off + int(p.Character)
}

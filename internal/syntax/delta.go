package syntax

import (
	"bytes"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/position"
)

// Delta is a single contiguous replacement that turns one text into another.
type Delta struct {
	StartByte  uint32
	OldEndByte uint32
	NewEndByte uint32
	Start      sitter.Point
	OldEnd     sitter.Point
	NewEnd     sitter.Point

	// src is the text after the replacement.
	src []byte
}

// Diff computes the smallest single replacement between oldSrc and newSrc
// as their common prefix and suffix. It reports false when the texts are
// equal.
func Diff(oldSrc, newSrc []byte) (Delta, bool) {
	if bytes.Equal(oldSrc, newSrc) {
		end := position.PointAt(newSrc, len(newSrc))
		n := uint32(len(newSrc))
		return Delta{
			StartByte: n, OldEndByte: n, NewEndByte: n,
			Start: end, OldEnd: end, NewEnd: end,
			src: newSrc,
		}, false
	}

	dmp := diffmatchpatch.New()
	a, b := string(oldSrc), string(newSrc)

	prefix := runePrefixBytes(a, dmp.DiffCommonPrefix(a, b))
	for prefix > 0 && !bytes.Equal(oldSrc[:prefix], newSrc[:prefix]) {
		prefix--
	}

	ta, tb := a[prefix:], b[prefix:]
	suffix := runeSuffixBytes(ta, dmp.DiffCommonSuffix(ta, tb))
	suffix = min(suffix, len(ta), len(tb))
	for suffix > 0 && ta[len(ta)-suffix:] != tb[len(tb)-suffix:] {
		suffix--
	}

	oldEnd := len(oldSrc) - suffix
	newEnd := len(newSrc) - suffix
	return Delta{
		StartByte:  uint32(prefix),
		OldEndByte: uint32(oldEnd),
		NewEndByte: uint32(newEnd),
		Start:      position.PointAt(oldSrc, prefix),
		OldEnd:     position.PointAt(oldSrc, oldEnd),
		NewEnd:     position.PointAt(newSrc, newEnd),
		src:        newSrc,
	}, true
}

// EditInput converts d to the engine's edit description.
func (d Delta) EditInput() sitter.EditInput {
	return sitter.EditInput{
		StartIndex:  d.StartByte,
		OldEndIndex: d.OldEndByte,
		NewEndIndex: d.NewEndByte,
		StartPoint:  d.Start,
		OldEndPoint: d.OldEnd,
		NewEndPoint: d.NewEnd,
	}
}

// Range is the host range of the replacement in the new text.
func (d Delta) Range() protocol.Range {
	return position.ToRange(sitter.Range{
		StartPoint: d.Start,
		EndPoint:   d.NewEnd,
		StartByte:  d.StartByte,
		EndByte:    d.NewEndByte,
	})
}

// Empty reports whether d replaces nothing with nothing.
func (d Delta) Empty() bool {
	return d.StartByte == d.OldEndByte && d.StartByte == d.NewEndByte
}

// runePrefixBytes returns the byte length of the first n runes of s.
func runePrefixBytes(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// runeSuffixBytes returns the byte length of the last n runes of s.
func runeSuffixBytes(s string, n int) int {
	j := len(s)
	for ; n > 0 && j > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:j])
		j -= size
	}
	return len(s) - j
}

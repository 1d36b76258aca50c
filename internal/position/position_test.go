package position

import (
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"go.lsp.dev/protocol"
)

func TestToPoint_FromPoint_RoundTrip(t *testing.T) {
	t.Parallel()

	p := protocol.Position{Line: 3, Character: 14}
	pt := ToPoint(p)
	assert.Equal(t, sitter.Point{Row: 3, Column: 14}, pt)
	assert.Equal(t, p, FromPoint(pt))
}

func TestToRange_ZeroWidth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   sitter.Range
	}{
		{
			name: "equal points",
			in: sitter.Range{
				StartPoint: sitter.Point{Row: 2, Column: 4},
				EndPoint:   sitter.Point{Row: 2, Column: 4},
				StartByte:  20,
				EndByte:    20,
			},
		},
		{
			name: "engine reported a later end point",
			in: sitter.Range{
				StartPoint: sitter.Point{Row: 2, Column: 4},
				EndPoint:   sitter.Point{Row: 2, Column: 9},
				StartByte:  20,
				EndByte:    20,
			},
		},
		{
			name: "engine reported an earlier end point",
			in: sitter.Range{
				StartPoint: sitter.Point{Row: 2, Column: 4},
				EndPoint:   sitter.Point{Row: 1, Column: 0},
				StartByte:  20,
				EndByte:    20,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ToRange(tt.in)
			assert.Equal(t, got.Start, got.End)
			assert.Equal(t, protocol.Position{Line: 2, Character: 4}, got.Start)
		})
	}
}

func TestToRange_NonEmpty(t *testing.T) {
	t.Parallel()

	got := ToRange(sitter.Range{
		StartPoint: sitter.Point{Row: 0, Column: 15},
		EndPoint:   sitter.Point{Row: 1, Column: 2},
		StartByte:  15,
		EndByte:    30,
	})
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 0, Character: 15},
		End:   protocol.Position{Line: 1, Character: 2},
	}, got)
	assert.False(t, Less(got.End, got.Start))
}

func TestContains(t *testing.T) {
	t.Parallel()

	r := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 2},
		End:   protocol.Position{Line: 3, Character: 0},
	}
	assert.True(t, Contains(r, protocol.Position{Line: 1, Character: 2}))
	assert.True(t, Contains(r, protocol.Position{Line: 2, Character: 99}))
	assert.True(t, Contains(r, protocol.Position{Line: 3, Character: 0}))
	assert.False(t, Contains(r, protocol.Position{Line: 1, Character: 1}))
	assert.False(t, Contains(r, protocol.Position{Line: 3, Character: 1}))
}

func TestPointAt_Offset(t *testing.T) {
	t.Parallel()

	src := []byte("fn a() {}\nfn b() {\n}\n")

	assert.Equal(t, sitter.Point{Row: 0, Column: 0}, PointAt(src, 0))
	assert.Equal(t, sitter.Point{Row: 1, Column: 3}, PointAt(src, 13))
	assert.Equal(t, sitter.Point{Row: 3, Column: 0}, PointAt(src, 100))

	assert.Equal(t, 13, Offset(src, protocol.Position{Line: 1, Character: 3}))
	assert.Equal(t, 9, Offset(src, protocol.Position{Line: 0, Character: 50}))
	assert.Equal(t, len(src), Offset(src, protocol.Position{Line: 10, Character: 0}))

	for _, off := range []int{0, 5, 10, 18, len(src)} {
		assert.Equal(t, off, Offset(src, FromPoint(PointAt(src, off))), "offset %d", off)
	}
}

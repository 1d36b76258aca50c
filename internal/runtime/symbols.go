package runtime

import (
	"context"
	"slices"

	"github.com/risor-io/risor/object"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/position"
)

// Symbol is one definition an outline script emits.
type Symbol struct {
	Kind           string         `json:"kind"`
	Name           string         `json:"name"`
	Range          protocol.Range `json:"range"`
	SelectionRange protocol.Range `json:"selection_range"`
}

// makeEmitFn creates the "emit" host function. The name node supplies the
// symbol's name and selection range; the definition node, when given,
// supplies its full range.
//
// emit(kind, name_node[, definition_node])
func makeEmitFn(sess *session) *object.Builtin {
	return object.NewBuiltin("emit", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.Errorf("emit: expected 2 or 3 arguments, got %d", len(args))
		}
		kind, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("emit: kind must be a string, got %s", args[0].Type())
		}
		rawName, errObj := nodeArg("emit", args[1])
		if errObj != nil {
			return errObj
		}
		name, found := sess.node(rawName)
		if !found {
			return object.Errorf("emit: node does not belong to a tree parsed by this script")
		}
		def := name
		if len(args) == 3 {
			rawDef, errObj := nodeArg("emit", args[2])
			if errObj != nil {
				return errObj
			}
			if def, found = sess.node(rawDef); !found {
				return object.Errorf("emit: node does not belong to a tree parsed by this script")
			}
		}

		sess.mu.Lock()
		sess.symbols = append(sess.symbols, Symbol{
			Kind:           kind.Value(),
			Name:           name.Text(),
			Range:          def.Range(),
			SelectionRange: name.Range(),
		})
		sess.mu.Unlock()
		return object.Nil
	})
}

// sortSymbols orders symbols by where they start, outer definitions first.
func sortSymbols(syms []Symbol) {
	slices.SortStableFunc(syms, func(a, b Symbol) int {
		switch {
		case position.Less(a.Range.Start, b.Range.Start):
			return -1
		case position.Less(b.Range.Start, a.Range.Start):
			return 1
		case position.Less(b.Range.End, a.Range.End):
			return -1
		case position.Less(a.Range.End, b.Range.End):
			return 1
		}
		return 0
	})
}

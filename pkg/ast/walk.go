package ast

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrMalformed reports an input tree that does not have the shape of a legacy
// template AST: an unknown tag, a missing child or an unexpected payload.
var ErrMalformed = errors.New("ast: malformed tree")

// Walk calls fn for every node of tree in pre-order. Children are visited in
// the order they are emitted.
func Walk(tree Tree, fn func(Node)) {
	for _, n := range tree {
		WalkNode(n, fn)
	}
}

// WalkNode calls fn for n and then for every node below it.
func WalkNode(n Node, fn func(Node)) {
	fn(n)
	eachChild(n, func(slot *Node, _ string, _ int) {
		WalkNode(*slot, fn)
	})
}

// Slots returns a pointer to every node slot of tree in pre-order. Assigning
// through a slot replaces the node in place.
func Slots(tree Tree) []*Node {
	var out []*Node
	var visit func(slot *Node, _ string, _ int)
	visit = func(slot *Node, _ string, _ int) {
		out = append(out, slot)
		eachChild(*slot, visit)
	}
	for i := range tree {
		visit(&tree[i], "", i)
	}
	return out
}

// eachChild calls fn for every child slot of n in emission order. field names
// the slot; index is its position within a child list, or -1 for a single
// child. Absent parameter defaults are not slots.
func eachChild(n Node, fn func(slot *Node, field string, index int)) {
	list := func(t Tree, field string) {
		for i := range t {
			fn(&t[i], field, i)
		}
	}
	switch t := n.(type) {
	case *Conditional:
		fn(&t.Cond, "cond", -1)
		list(t.Then, "then")
		list(t.Else, "else")
	case *CountedLoop:
		fn(&t.Start, "start", -1)
		fn(&t.End, "end", -1)
		list(t.Body, "body")
	case *MacroDefinition:
		for i := range t.Params {
			if t.Params[i].Default != nil {
				fn(&t.Params[i].Default, "params", i)
			}
		}
		list(t.Defaults, "defaults")
		list(t.Continuation, "continuation")
	case *MacroApply:
		for i := range t.Args {
			list(t.Args[i].Value, fmt.Sprintf("args[%d]", i))
		}
	case *LocalBinding:
		list(t.Value, "value")
		list(t.Body, "body")
	case *UnaryOp:
		fn(&t.Operand, "operand", -1)
	case *BinaryOp:
		fn(&t.Left, "left", -1)
		fn(&t.Right, "right", -1)
	}
}

// Check verifies that tree has no absent child slots. It returns an error
// wrapping ErrMalformed naming the first offending location.
func Check(tree Tree) error {
	for i, n := range tree {
		if err := checkNode(n, fmt.Sprintf("tree[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func checkNode(n Node, where string) error {
	if n == nil || reflect.ValueOf(n).IsNil() {
		return fmt.Errorf("%w: null node at %s", ErrMalformed, where)
	}
	var err error
	eachChild(n, func(slot *Node, field string, index int) {
		if err != nil {
			return
		}
		loc := where + "." + field
		if index >= 0 {
			loc = fmt.Sprintf("%s[%d]", loc, index)
		}
		err = checkNode(*slot, loc)
	})
	return err
}

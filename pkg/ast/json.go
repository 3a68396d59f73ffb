package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// wireNode is the JSON form of a Node. Only the fields of the active kind are
// set; absent child slots are rejected on decode.
type wireNode struct {
	Kind string `json:"kind"`

	Text       *string           `json:"text,omitempty"`
	Name       *string           `json:"name,omitempty"`
	Path       []json.RawMessage `json:"path,omitempty"`
	Key        *string           `json:"key,omitempty"`
	Variant    *string           `json:"variant,omitempty"`
	Capitalize *bool             `json:"capitalize,omitempty"`
	Size       *string           `json:"size,omitempty"`

	Cond         json.RawMessage `json:"cond,omitempty"`
	Then         json.RawMessage `json:"then,omitempty"`
	Else         json.RawMessage `json:"else,omitempty"`
	Var          *string         `json:"var,omitempty"`
	Start        json.RawMessage `json:"start,omitempty"`
	End          json.RawMessage `json:"end,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Params       []wireParam     `json:"params,omitempty"`
	Defaults     json.RawMessage `json:"defaults,omitempty"`
	Continuation json.RawMessage `json:"continuation,omitempty"`
	Macro        *string         `json:"macro,omitempty"`
	Args         []wireArg       `json:"args,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Op           *string         `json:"op,omitempty"`
	Operand      json.RawMessage `json:"operand,omitempty"`
	Left         json.RawMessage `json:"left,omitempty"`
	Right        json.RawMessage `json:"right,omitempty"`
	Digits       *string         `json:"digits,omitempty"`
	File         *string         `json:"file,omitempty"`
	Raw          *string         `json:"raw,omitempty"`
	Base         *string         `json:"base,omitempty"`
	URLPath      *string         `json:"url_path,omitempty"`
}

type wireParam struct {
	Name    string          `json:"name"`
	Default json.RawMessage `json:"default,omitempty"`
}

type wireArg struct {
	Key   *string         `json:"key,omitempty"`
	Value json.RawMessage `json:"value"`
}

// DecodeJSON reads a tree from its JSON dump. The decoded tree is fully owned
// by the caller; any null child or unknown kind fails the whole decode.
func DecodeJSON(r io.Reader) (Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ast: read dump: %w", err)
	}
	return decodeTree(data, "tree")
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeTree(raw json.RawMessage, where string) (Tree, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: null tree at %s", ErrMalformed, where)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: tree at %s: %v", ErrMalformed, where, err)
	}
	tree := make(Tree, 0, len(items))
	for i, item := range items {
		n, err := decodeNode(item, fmt.Sprintf("%s[%d]", where, i))
		if err != nil {
			return nil, err
		}
		tree = append(tree, n)
	}
	return tree, nil
}

func need(s *string, field, where string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: missing %q at %s", ErrMalformed, field, where)
	}
	return *s, nil
}

func decodeNode(raw json.RawMessage, where string) (Node, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: null node at %s", ErrMalformed, where)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var w wireNode
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: node at %s: %v", ErrMalformed, where, err)
	}

	switch w.Kind {
	case "text":
		text, err := need(w.Text, "text", where)
		if err != nil {
			return nil, err
		}
		return &Text{Text: text}, nil
	case "var":
		name, err := need(w.Name, "name", where)
		if err != nil {
			return nil, err
		}
		v := &Var{Name: name}
		for i, seg := range w.Path {
			s, err := decodeSegment(seg)
			if err != nil {
				return nil, fmt.Errorf("%w: path[%d] at %s: %v", ErrMalformed, i, where, err)
			}
			v.Path = append(v.Path, s)
		}
		return v, nil
	case "translation":
		key, err := need(w.Key, "key", where)
		if err != nil {
			return nil, err
		}
		t := &Translation{Key: key}
		if w.Variant != nil {
			t.Variant = *w.Variant
		}
		if w.Capitalize != nil {
			t.Capitalize = *w.Capitalize
		}
		return t, nil
	case "size":
		size, err := need(w.Size, "size", where)
		if err != nil {
			return nil, err
		}
		return &SizeSpec{Size: size}, nil
	case "if":
		cond, err := decodeNode(w.Cond, where+".cond")
		if err != nil {
			return nil, err
		}
		then, err := decodeTree(w.Then, where+".then")
		if err != nil {
			return nil, err
		}
		els, err := decodeTree(w.Else, where+".else")
		if err != nil {
			return nil, err
		}
		return &Conditional{Cond: cond, Then: then, Else: els}, nil
	case "foreach":
		return &ForEach{}, nil
	case "for":
		name, err := need(w.Var, "var", where)
		if err != nil {
			return nil, err
		}
		start, err := decodeNode(w.Start, where+".start")
		if err != nil {
			return nil, err
		}
		end, err := decodeNode(w.End, where+".end")
		if err != nil {
			return nil, err
		}
		body, err := decodeTree(w.Body, where+".body")
		if err != nil {
			return nil, err
		}
		return &CountedLoop{Var: name, Start: start, End: end, Body: body}, nil
	case "define":
		name, err := need(w.Name, "name", where)
		if err != nil {
			return nil, err
		}
		d := &MacroDefinition{Name: name}
		for i, p := range w.Params {
			param := Param{Name: p.Name}
			if !isNull(p.Default) {
				param.Default, err = decodeNode(p.Default, fmt.Sprintf("%s.params[%d]", where, i))
				if err != nil {
					return nil, err
				}
			}
			d.Params = append(d.Params, param)
		}
		if d.Defaults, err = decodeTree(w.Defaults, where+".defaults"); err != nil {
			return nil, err
		}
		if d.Continuation, err = decodeTree(w.Continuation, where+".continuation"); err != nil {
			return nil, err
		}
		return d, nil
	case "apply":
		macro, err := need(w.Macro, "macro", where)
		if err != nil {
			return nil, err
		}
		a := &MacroApply{Macro: macro}
		for i, arg := range w.Args {
			value, err := decodeTree(arg.Value, fmt.Sprintf("%s.args[%d]", where, i))
			if err != nil {
				return nil, err
			}
			item := Arg{Value: value}
			if arg.Key != nil {
				item.Key = *arg.Key
			}
			a.Args = append(a.Args, item)
		}
		return a, nil
	case "let":
		name, err := need(w.Var, "var", where)
		if err != nil {
			return nil, err
		}
		value, err := decodeTree(w.Value, where+".value")
		if err != nil {
			return nil, err
		}
		body, err := decodeTree(w.Body, where+".body")
		if err != nil {
			return nil, err
		}
		return &LocalBinding{Var: name, Value: value, Body: body}, nil
	case "op1":
		op, err := need(w.Op, "op", where)
		if err != nil {
			return nil, err
		}
		operand, err := decodeNode(w.Operand, where+".operand")
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand}, nil
	case "op2":
		op, err := need(w.Op, "op", where)
		if err != nil {
			return nil, err
		}
		left, err := decodeNode(w.Left, where+".left")
		if err != nil {
			return nil, err
		}
		right, err := decodeNode(w.Right, where+".right")
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: op, Left: left, Right: right}, nil
	case "int":
		digits, err := need(w.Digits, "digits", where)
		if err != nil {
			return nil, err
		}
		return &IntLiteral{Digits: digits}, nil
	case "include":
		switch {
		case w.File != nil && w.Raw == nil:
			return FileInclude(*w.File), nil
		case w.Raw != nil && w.File == nil:
			return RawInclude(*w.Raw), nil
		default:
			return nil, fmt.Errorf("%w: include at %s needs exactly one of \"file\" or \"raw\"", ErrMalformed, where)
		}
	case "url":
		base, err := need(w.Base, "base", where)
		if err != nil {
			return nil, err
		}
		path, err := need(w.URLPath, "url_path", where)
		if err != nil {
			return nil, err
		}
		return &URLReference{Base: base, Path: path}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q at %s", ErrMalformed, w.Kind, where)
	}
}

func decodeSegment(raw json.RawMessage) (Segment, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return Index(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Segment{}, fmt.Errorf("segment must be a string or an integer")
	}
	return Field(s), nil
}

// EncodeJSON writes tree in the form DecodeJSON reads.
func EncodeJSON(w io.Writer, tree Tree) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(encodeTree(tree)); err != nil {
		return fmt.Errorf("ast: encode dump: %w", err)
	}
	return nil
}

func encodeTree(t Tree) []any {
	out := make([]any, 0, len(t))
	for _, n := range t {
		out = append(out, encodeNode(n))
	}
	return out
}

func encodeNode(n Node) map[string]any {
	switch t := n.(type) {
	case *Text:
		return map[string]any{"kind": "text", "text": t.Text}
	case *Var:
		path := make([]any, 0, len(t.Path))
		for _, seg := range t.Path {
			if seg.IsIndex {
				path = append(path, seg.Index)
			} else {
				path = append(path, seg.Field)
			}
		}
		return map[string]any{"kind": "var", "name": t.Name, "path": path}
	case *Translation:
		return map[string]any{"kind": "translation", "key": t.Key, "variant": t.Variant, "capitalize": t.Capitalize}
	case *SizeSpec:
		return map[string]any{"kind": "size", "size": t.Size}
	case *Conditional:
		return map[string]any{"kind": "if", "cond": encodeNode(t.Cond), "then": encodeTree(t.Then), "else": encodeTree(t.Else)}
	case *ForEach:
		return map[string]any{"kind": "foreach"}
	case *CountedLoop:
		return map[string]any{"kind": "for", "var": t.Var, "start": encodeNode(t.Start), "end": encodeNode(t.End), "body": encodeTree(t.Body)}
	case *MacroDefinition:
		params := make([]any, 0, len(t.Params))
		for _, p := range t.Params {
			wp := map[string]any{"name": p.Name}
			if p.Default != nil {
				wp["default"] = encodeNode(p.Default)
			}
			params = append(params, wp)
		}
		return map[string]any{"kind": "define", "name": t.Name, "params": params, "defaults": encodeTree(t.Defaults), "continuation": encodeTree(t.Continuation)}
	case *MacroApply:
		args := make([]any, 0, len(t.Args))
		for _, a := range t.Args {
			wa := map[string]any{"value": encodeTree(a.Value)}
			if a.Key != "" {
				wa["key"] = a.Key
			}
			args = append(args, wa)
		}
		return map[string]any{"kind": "apply", "macro": t.Macro, "args": args}
	case *LocalBinding:
		return map[string]any{"kind": "let", "var": t.Var, "value": encodeTree(t.Value), "body": encodeTree(t.Body)}
	case *UnaryOp:
		return map[string]any{"kind": "op1", "op": t.Op, "operand": encodeNode(t.Operand)}
	case *BinaryOp:
		return map[string]any{"kind": "op2", "op": t.Op, "left": encodeNode(t.Left), "right": encodeNode(t.Right)}
	case *IntLiteral:
		return map[string]any{"kind": "int", "digits": t.Digits}
	case *Include:
		if t.IsRaw {
			return map[string]any{"kind": "include", "raw": t.Raw}
		}
		return map[string]any{"kind": "include", "file": t.File}
	case *URLReference:
		return map[string]any{"kind": "url", "base": t.Base, "url_path": t.Path}
	}
	return map[string]any{"kind": fmt.Sprintf("%T", n)}
}

//go:build linux && cgo && nativebridge

package bridge

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdbool.h>
#include <stddef.h>
#include <stdlib.h>

// Layout of the native bridge library's AST, see its bindings header.
typedef struct node node_t;

typedef struct { size_t len; node_t **nodes; } tree_t;
typedef struct { const char *text; } atext_t;
typedef struct { const char *name; const char **values; size_t values_len; } avar_t;
typedef struct { bool capitalize; const char *key; const char *variant; } atransl_t;
typedef struct { const char *size; } awid_hei_t;
typedef struct { node_t *cond; tree_t *then_branch; tree_t *else_branch; } aif_t;
typedef struct { char unused; } aforeach_t;
typedef struct { const char *var; node_t *start; node_t *end; tree_t *body; } afor_t;
typedef struct { const char *name; bool has_value; node_t *value; } adefine_param_t;
typedef struct { const char *name; adefine_param_t *param_vals; size_t params_len; tree_t *values; tree_t *body; } adefine_t;
typedef struct { bool has_key; const char *key; tree_t *arg; } aapply_arg_t;
typedef struct { const char *macro; aapply_arg_t *args; size_t args_len; } aapply_t;
typedef struct { const char *var; tree_t *value; tree_t *body; } alet_t;
typedef struct { const char *op; node_t *a; } aop1_t;
typedef struct { const char *op; node_t *a; node_t *b; } aop2_t;
typedef struct { const char *num; } aint_t;
typedef struct { int type; union { const char *file_path; const char *raw; } u; } ainclude_t;

struct node {
	int tag;
	union {
		atext_t atext;
		avar_t avar;
		atransl_t atransl;
		awid_hei_t awid_hei;
		aif_t aif;
		aforeach_t aforeach;
		afor_t afor;
		adefine_t adefine;
		aapply_t aapply;
		alet_t alet;
		aop1_t aop1;
		aop2_t aop2;
		aint_t aint;
		ainclude_t ainclude;
	} u;
};

typedef void (*tb_runtime_fn)(void);
typedef tree_t *(*tb_parse_fn)(const char *);
typedef void (*tb_free_fn)(tree_t *);

static void *tb_dlopen(const char *path) { return dlopen(path, RTLD_NOW | RTLD_LOCAL); }
static const char *tb_dlerror(void) { return dlerror(); }
static void *tb_dlsym(void *h, const char *name) { dlerror(); return dlsym(h, name); }
static int tb_dlclose(void *h) { return dlclose(h); }

static void tb_call_runtime(void *fn) { ((tb_runtime_fn)fn)(); }
static tree_t *tb_call_parse(void *fn, const char *path) { return ((tb_parse_fn)fn)(path); }
static void tb_call_free(void *fn, tree_t *t) { ((tb_free_fn)fn)(t); }

static size_t tree_len(tree_t *t) { return t->len; }
static node_t *tree_at(tree_t *t, size_t i) { return t->nodes[i]; }
static int node_tag(node_t *n) { return n->tag; }

static atext_t *as_text(node_t *n) { return &n->u.atext; }
static avar_t *as_var(node_t *n) { return &n->u.avar; }
static atransl_t *as_transl(node_t *n) { return &n->u.atransl; }
static awid_hei_t *as_wid_hei(node_t *n) { return &n->u.awid_hei; }
static aif_t *as_if(node_t *n) { return &n->u.aif; }
static afor_t *as_for(node_t *n) { return &n->u.afor; }
static adefine_t *as_define(node_t *n) { return &n->u.adefine; }
static aapply_t *as_apply(node_t *n) { return &n->u.aapply; }
static alet_t *as_let(node_t *n) { return &n->u.alet; }
static aop1_t *as_op1(node_t *n) { return &n->u.aop1; }
static aop2_t *as_op2(node_t *n) { return &n->u.aop2; }
static aint_t *as_int(node_t *n) { return &n->u.aint; }
static ainclude_t *as_include(node_t *n) { return &n->u.ainclude; }

static const char *var_name(avar_t *v) { return v->name; }
static size_t var_len(avar_t *v) { return v->values_len; }
static const char *var_at(avar_t *v, size_t i) { return v->values ? v->values[i] : NULL; }

static int transl_capitalize(atransl_t *t) { return t->capitalize ? 1 : 0; }
static const char *transl_key(atransl_t *t) { return t->key; }
static const char *transl_variant(atransl_t *t) { return t->variant; }

static const char *wid_hei_size(awid_hei_t *w) { return w->size; }

static node_t *if_cond(aif_t *i) { return i->cond; }
static tree_t *if_then(aif_t *i) { return i->then_branch; }
static tree_t *if_else(aif_t *i) { return i->else_branch; }

static const char *for_var(afor_t *f) { return f->var; }
static node_t *for_start(afor_t *f) { return f->start; }
static node_t *for_end(afor_t *f) { return f->end; }
static tree_t *for_body(afor_t *f) { return f->body; }

static const char *define_name(adefine_t *d) { return d->name; }
static size_t define_params_len(adefine_t *d) { return d->params_len; }
static adefine_param_t *define_param(adefine_t *d, size_t i) { return &d->param_vals[i]; }
static const char *param_name(adefine_param_t *p) { return p->name; }
static int param_has_value(adefine_param_t *p) { return p->has_value ? 1 : 0; }
static node_t *param_value(adefine_param_t *p) { return p->value; }
static tree_t *define_values(adefine_t *d) { return d->values; }
static tree_t *define_body(adefine_t *d) { return d->body; }

static const char *apply_macro(aapply_t *a) { return a->macro; }
static size_t apply_args_len(aapply_t *a) { return a->args_len; }
static aapply_arg_t *apply_arg(aapply_t *a, size_t i) { return &a->args[i]; }
static int arg_has_key(aapply_arg_t *a) { return a->has_key ? 1 : 0; }
static const char *arg_key(aapply_arg_t *a) { return a->key; }
static tree_t *arg_tree(aapply_arg_t *a) { return a->arg; }

static const char *let_var(alet_t *l) { return l->var; }
static tree_t *let_value(alet_t *l) { return l->value; }
static tree_t *let_body(alet_t *l) { return l->body; }

static const char *op1_op(aop1_t *o) { return o->op; }
static node_t *op1_a(aop1_t *o) { return o->a; }
static const char *op2_op(aop2_t *o) { return o->op; }
static node_t *op2_a(aop2_t *o) { return o->a; }
static node_t *op2_b(aop2_t *o) { return o->b; }

static const char *int_num(aint_t *i) { return i->num; }

static int include_type(ainclude_t *i) { return i->type; }
static const char *include_text(ainclude_t *i) { return i->u.raw; }
*/
import "C"

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/geneweb/templconv/pkg/ast"
)

// Tags of the native node union, in declaration order.
const (
	tagText = iota
	tagVar
	tagTransl
	tagWidHei
	tagIf
	tagForEach
	tagFor
	tagDefine
	tagApply
	tagLet
	tagOp1
	tagOp2
	tagInt
	tagInclude
)

const (
	includeRaw  = 0
	includeFile = 1
)

type nativeRequest struct {
	path  string
	reply chan nativeResult
}

type nativeResult struct {
	tree ast.Tree
	err  error
}

// Native calls the parser exported by the native bridge library. The native
// runtime is bound to the thread that started it, so every call is served by
// one goroutine locked to its OS thread.
type Native struct {
	requests chan nativeRequest
	done     chan error
}

// NewNative loads the shared library at libPath and starts its runtime.
func NewNative(libPath string) (*Native, error) {
	n := &Native{
		requests: make(chan nativeRequest),
		done:     make(chan error, 1),
	}
	started := make(chan error, 1)
	go n.serve(libPath, started)
	if err := <-started; err != nil {
		return nil, err
	}
	return n, nil
}

type symbols struct {
	handle unsafe.Pointer
	start  unsafe.Pointer
	stop   unsafe.Pointer
	parse  unsafe.Pointer
	free   unsafe.Pointer
}

func loadSymbols(libPath string) (*symbols, error) {
	cpath := C.CString(libPath)
	defer C.free(unsafe.Pointer(cpath))

	h := C.tb_dlopen(cpath)
	if h == nil {
		return nil, fmt.Errorf("bridge: dlopen %s: %s", libPath, C.GoString(C.tb_dlerror()))
	}
	s := &symbols{handle: h}
	for _, sym := range []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"ocaml_runtime_start", &s.start},
		{"ocaml_runtime_stop", &s.stop},
		{"parse_path_ml", &s.parse},
		{"free_tree", &s.free},
	} {
		cname := C.CString(sym.name)
		p := C.tb_dlsym(h, cname)
		C.free(unsafe.Pointer(cname))
		if p == nil {
			C.tb_dlclose(h)
			return nil, fmt.Errorf("bridge: symbol %s missing from %s", sym.name, libPath)
		}
		*sym.dst = p
	}
	return s, nil
}

func (n *Native) serve(libPath string, started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	syms, err := loadSymbols(libPath)
	if err != nil {
		started <- err
		return
	}
	C.tb_call_runtime(syms.start)
	started <- nil

	for req := range n.requests {
		tree, err := parseNative(syms, req.path)
		req.reply <- nativeResult{tree: tree, err: err}
	}

	C.tb_call_runtime(syms.stop)
	if C.tb_dlclose(syms.handle) != 0 {
		n.done <- fmt.Errorf("bridge: dlclose: %s", C.GoString(C.tb_dlerror()))
		return
	}
	n.done <- nil
}

// Parse implements Parser.
func (n *Native) Parse(ctx context.Context, path string) (ast.Tree, error) {
	req := nativeRequest{path: path, reply: make(chan nativeResult, 1)}
	select {
	case n.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := <-req.reply
	return res.tree, res.err
}

// Close stops the native runtime and unloads the library.
func (n *Native) Close() error {
	close(n.requests)
	return <-n.done
}

func parseNative(syms *symbols, path string) (ast.Tree, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	root := C.tb_call_parse(syms.parse, cpath)
	if root == nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("native parser returned no tree")}
	}
	// The copy below owns every string and slice; nothing native survives.
	defer C.tb_call_free(syms.free, root)

	tree, err := copyTree(root, "tree")
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return tree, nil
}

func malformed(where, format string, args ...any) error {
	return fmt.Errorf("%w: %s at %s", ast.ErrMalformed, fmt.Sprintf(format, args...), where)
}

func copyString(s *C.char, field, where string) (string, error) {
	if s == nil {
		return "", malformed(where, "null %s", field)
	}
	return C.GoString(s), nil
}

func copyTree(t *C.tree_t, where string) (ast.Tree, error) {
	if t == nil {
		return nil, malformed(where, "null tree")
	}
	size := int(C.tree_len(t))
	out := make(ast.Tree, 0, size)
	for i := 0; i < size; i++ {
		n, err := copyNode(C.tree_at(t, C.size_t(i)), fmt.Sprintf("%s[%d]", where, i))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func copyNode(n *C.node_t, where string) (ast.Node, error) {
	if n == nil {
		return nil, malformed(where, "null node")
	}
	switch tag := int(C.node_tag(n)); tag {
	case tagText:
		text, err := copyString(C.as_text(n).text, "text", where)
		if err != nil {
			return nil, err
		}
		return &ast.Text{Text: text}, nil
	case tagVar:
		v := C.as_var(n)
		name, err := copyString(C.var_name(v), "name", where)
		if err != nil {
			return nil, err
		}
		out := &ast.Var{Name: name}
		for i := 0; i < int(C.var_len(v)); i++ {
			seg, err := copyString(C.var_at(v, C.size_t(i)), fmt.Sprintf("path[%d]", i), where)
			if err != nil {
				return nil, err
			}
			out.Path = append(out.Path, ast.ParseSegment(seg))
		}
		return out, nil
	case tagTransl:
		t := C.as_transl(n)
		key, err := copyString(C.transl_key(t), "key", where)
		if err != nil {
			return nil, err
		}
		variant, err := copyString(C.transl_variant(t), "variant", where)
		if err != nil {
			return nil, err
		}
		return &ast.Translation{Key: key, Variant: variant, Capitalize: C.transl_capitalize(t) != 0}, nil
	case tagWidHei:
		size, err := copyString(C.wid_hei_size(C.as_wid_hei(n)), "size", where)
		if err != nil {
			return nil, err
		}
		return &ast.SizeSpec{Size: size}, nil
	case tagIf:
		i := C.as_if(n)
		cond, err := copyNode(C.if_cond(i), where+".cond")
		if err != nil {
			return nil, err
		}
		then, err := copyTree(C.if_then(i), where+".then")
		if err != nil {
			return nil, err
		}
		els, err := copyTree(C.if_else(i), where+".else")
		if err != nil {
			return nil, err
		}
		return &ast.Conditional{Cond: cond, Then: then, Else: els}, nil
	case tagForEach:
		return &ast.ForEach{}, nil
	case tagFor:
		f := C.as_for(n)
		name, err := copyString(C.for_var(f), "var", where)
		if err != nil {
			return nil, err
		}
		start, err := copyNode(C.for_start(f), where+".start")
		if err != nil {
			return nil, err
		}
		end, err := copyNode(C.for_end(f), where+".end")
		if err != nil {
			return nil, err
		}
		body, err := copyTree(C.for_body(f), where+".body")
		if err != nil {
			return nil, err
		}
		return &ast.CountedLoop{Var: name, Start: start, End: end, Body: body}, nil
	case tagDefine:
		return copyDefine(C.as_define(n), where)
	case tagApply:
		a := C.as_apply(n)
		macro, err := copyString(C.apply_macro(a), "macro", where)
		if err != nil {
			return nil, err
		}
		out := &ast.MacroApply{Macro: macro}
		for i := 0; i < int(C.apply_args_len(a)); i++ {
			arg := C.apply_arg(a, C.size_t(i))
			argWhere := fmt.Sprintf("%s.args[%d]", where, i)
			var item ast.Arg
			if C.arg_has_key(arg) != 0 {
				if item.Key, err = copyString(C.arg_key(arg), "key", argWhere); err != nil {
					return nil, err
				}
			}
			if item.Value, err = copyTree(C.arg_tree(arg), argWhere); err != nil {
				return nil, err
			}
			out.Args = append(out.Args, item)
		}
		return out, nil
	case tagLet:
		l := C.as_let(n)
		name, err := copyString(C.let_var(l), "var", where)
		if err != nil {
			return nil, err
		}
		value, err := copyTree(C.let_value(l), where+".value")
		if err != nil {
			return nil, err
		}
		body, err := copyTree(C.let_body(l), where+".body")
		if err != nil {
			return nil, err
		}
		return &ast.LocalBinding{Var: name, Value: value, Body: body}, nil
	case tagOp1:
		o := C.as_op1(n)
		op, err := copyString(C.op1_op(o), "op", where)
		if err != nil {
			return nil, err
		}
		operand, err := copyNode(C.op1_a(o), where+".operand")
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: op, Operand: operand}, nil
	case tagOp2:
		o := C.as_op2(n)
		op, err := copyString(C.op2_op(o), "op", where)
		if err != nil {
			return nil, err
		}
		left, err := copyNode(C.op2_a(o), where+".left")
		if err != nil {
			return nil, err
		}
		right, err := copyNode(C.op2_b(o), where+".right")
		if err != nil {
			return nil, err
		}
		return &ast.BinaryOp{Op: op, Left: left, Right: right}, nil
	case tagInt:
		digits, err := copyString(C.int_num(C.as_int(n)), "num", where)
		if err != nil {
			return nil, err
		}
		return &ast.IntLiteral{Digits: digits}, nil
	case tagInclude:
		inc := C.as_include(n)
		text, err := copyString(C.include_text(inc), "include", where)
		if err != nil {
			return nil, err
		}
		switch C.include_type(inc) {
		case includeRaw:
			return ast.RawInclude(text), nil
		case includeFile:
			return ast.FileInclude(text), nil
		default:
			return nil, malformed(where, "unknown include type %d", int(C.include_type(inc)))
		}
	default:
		return nil, malformed(where, "unknown tag %d", tag)
	}
}

func copyDefine(d *C.adefine_t, where string) (ast.Node, error) {
	name, err := copyString(C.define_name(d), "name", where)
	if err != nil {
		return nil, err
	}
	out := &ast.MacroDefinition{Name: name}
	for i := 0; i < int(C.define_params_len(d)); i++ {
		p := C.define_param(d, C.size_t(i))
		paramWhere := fmt.Sprintf("%s.params[%d]", where, i)
		param := ast.Param{}
		if param.Name, err = copyString(C.param_name(p), "name", paramWhere); err != nil {
			return nil, err
		}
		if C.param_has_value(p) != 0 {
			if param.Default, err = copyNode(C.param_value(p), paramWhere); err != nil {
				return nil, err
			}
		}
		out.Params = append(out.Params, param)
	}
	if out.Defaults, err = copyTree(C.define_values(d), where+".defaults"); err != nil {
		return nil, err
	}
	if out.Continuation, err = copyTree(C.define_body(d), where+".continuation"); err != nil {
		return nil, err
	}
	return out, nil
}

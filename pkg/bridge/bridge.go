// Package bridge reaches the external legacy-template parser and hands back
// natively owned ast trees. The parser itself is never reimplemented here.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/geneweb/templconv/pkg/ast"
)

// ErrNativeUnavailable is returned when the binary was built without the
// native bridge (build tag nativebridge, linux and cgo).
var ErrNativeUnavailable = errors.New("bridge: native parser not compiled in")

// Parser turns a legacy template source file into a tree. Parse errors from
// the external component are returned wrapped, never replaced.
type Parser interface {
	Parse(ctx context.Context, path string) (ast.Tree, error)
}

// ParseError carries a failure reported by the external parser.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// JSONFile reads trees from JSON dumps produced by the external parser. The
// dump for a source file is looked up at source path + Suffix.
type JSONFile struct {
	Suffix string
}

// Parse implements Parser.
func (j JSONFile) Parse(ctx context.Context, path string) (ast.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dump := path + j.Suffix
	f, err := os.Open(dump)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	tree, err := ast.DecodeJSON(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return tree, nil
}

// Command runs an external program that prints the JSON dump of the file
// named by its last argument.
type Command struct {
	Argv []string
}

// Parse implements Parser.
func (c Command) Parse(ctx context.Context, path string) (ast.Tree, error) {
	if len(c.Argv) == 0 {
		return nil, fmt.Errorf("bridge: empty parser command")
	}
	args := append(append([]string{}, c.Argv[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	tree, err := ast.DecodeJSON(&stdout)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return tree, nil
}

// Closer is implemented by parsers that hold external resources.
type Closer interface {
	Close() error
}

// Close releases p when it holds external resources.
func Close(p Parser) error {
	if c, ok := p.(Closer); ok {
		return c.Close()
	}
	return nil
}

//go:build !(linux && cgo && nativebridge)

package bridge

import (
	"context"

	"github.com/geneweb/templconv/pkg/ast"
)

// Native is unavailable in this build; see NewNative.
type Native struct{}

// NewNative always fails with ErrNativeUnavailable. Rebuild with
// -tags nativebridge on linux with cgo enabled to load the library.
func NewNative(libPath string) (*Native, error) {
	return nil, ErrNativeUnavailable
}

// Parse implements Parser.
func (*Native) Parse(context.Context, string) (ast.Tree, error) {
	return nil, ErrNativeUnavailable
}

// Close implements Closer.
func (*Native) Close() error { return nil }

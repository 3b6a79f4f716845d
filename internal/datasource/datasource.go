// Package datasource defines the byte-stream endpoints of a conversion: a
// Source that can be opened for reading and a Sink that can be created for
// writing. Concrete implementations live in subpackages (see file).
package datasource

import (
	"context"
	"io"
)

// Source opens a readable stream.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sink creates a writable stream, truncating any previous content.
type Sink interface {
	Create(ctx context.Context) (io.WriteCloser, error)
}

// Package artifact keeps a local copy of each uploaded paths document for
// offline inspection. The cache is best-effort: a write failure is logged by
// the caller and never affects the pipeline outcome.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// Codec defines how a paths document is written to and read from disk.
type Codec interface {
	// Encode writes doc to w.
	Encode(w io.Writer, doc []byte) error
	// Decode reads a document back from r.
	Decode(r io.Reader) ([]byte, error)
	// Extension returns the file extension for this codec.
	Extension() string
}

// JSONCodec stores the document verbatim.
type JSONCodec struct{}

// Encode implements Codec.Encode by writing doc as-is.
func (JSONCodec) Encode(w io.Writer, doc []byte) error {
	_, err := w.Write(doc)
	if err != nil {
		return fmt.Errorf("write json: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode by reading the file as-is.
func (JSONCodec) Decode(r io.Reader) ([]byte, error) {
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}

	return doc, nil
}

// Extension implements Codec.Extension for plain JSON files.
func (JSONCodec) Extension() string {
	return ".json"
}

// LZ4Codec stores the document LZ4-framed.
type LZ4Codec struct{}

// Encode implements Codec.Encode with LZ4 frame compression.
func (LZ4Codec) Encode(w io.Writer, doc []byte) error {
	zw := lz4.NewWriter(w)

	_, err := zw.Write(doc)
	if err != nil {
		return fmt.Errorf("lz4 write: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode by inflating the LZ4 frame.
func (LZ4Codec) Decode(r io.Reader) ([]byte, error) {
	doc, err := io.ReadAll(lz4.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}

	return doc, nil
}

// Extension implements Codec.Extension for LZ4-framed JSON files.
func (LZ4Codec) Extension() string {
	return ".json.lz4"
}

// Cache writes paths documents under one directory, one file per batch.
type Cache struct {
	dir   string
	codec Codec
}

// NewCache builds a cache rooted at dir, creating it if needed. compress
// selects the LZ4 codec over plain JSON.
func NewCache(dir string, compress bool) (*Cache, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("artifact: create dir %s: %w", dir, err)
	}

	var codec Codec = JSONCodec{}
	if compress {
		codec = LZ4Codec{}
	}

	return &Cache{dir: dir, codec: codec}, nil
}

// SavePaths writes the paths document of one batch and returns the file
// path. An existing file is overwritten; the content is deterministic per
// batch, so the overwrite is idempotent.
func (c *Cache) SavePaths(batchID int64, doc []byte) (string, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("batch_%d_paths%s", batchID, c.codec.Extension()))

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("artifact: create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	err = c.codec.Encode(file, doc)
	if err != nil {
		return "", fmt.Errorf("artifact: encode %s: %w", path, err)
	}

	return path, nil
}

// LoadPaths reads the cached paths document of one batch back.
func (c *Cache) LoadPaths(batchID int64) ([]byte, error) {
	path := filepath.Join(c.dir, fmt.Sprintf("batch_%d_paths%s", batchID, c.codec.Extension()))

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	doc, err := c.codec.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("artifact: decode %s: %w", path, err)
	}

	return doc, nil
}

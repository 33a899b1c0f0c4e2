package cate

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/qri-io/dataset/compression"
)

// acceptEncoding is sent with payload downloads. Responses using one of these
// encodings are inflated before decoding.
const acceptEncoding = "gzip, zstd"

// contentEncodings maps HTTP content codings onto compression formats
var contentEncodings = map[string]string{
	"gzip":   "gzip",
	"x-gzip": "gzip",
	"zstd":   "zst",
}

// decompressor wraps body according to the response Content-Encoding.
func decompressor(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" {
		return body, nil
	}
	format, ok := contentEncodings[encoding]
	if !ok {
		return nil, errors.Newf("unsupported content encoding %q", encoding)
	}
	r, err := compression.Decompressor(format, body)
	if err != nil {
		return nil, err
	}
	return &decompressReader{ReadCloser: r, body: body}, nil
}

// decompressReader closes both the decompressor and the response body
type decompressReader struct {
	io.ReadCloser
	body io.Closer
}

func (r *decompressReader) Close() error {
	err := r.ReadCloser.Close()
	if berr := r.body.Close(); err == nil {
		err = berr
	}
	return err
}

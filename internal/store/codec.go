package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ContentCodec encodes extracted article text for the compressed_content
// column. An Encode result of "" means the column is left untouched.
type ContentCodec interface {
	Name() string
	Encode(text string) (string, error)
	Decode(stored string) (string, error)
}

// NewCodec selects a codec by name. The empty name selects gzip.
func NewCodec(name string) (ContentCodec, error) {
	switch name {
	case "", "gzip":
		return GzipCodec{}, nil
	case "none", "null":
		return NoneCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown content codec %q", name)
	}
}

// GzipCodec stores gzip-compressed text as standard base64.
type GzipCodec struct{}

func (GzipCodec) Name() string { return "gzip" }

func (GzipCodec) Encode(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (GzipCodec) Decode(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompress: %w", err)
	}
	return string(text), nil
}

// NoneCodec disables the compressed_content column entirely.
type NoneCodec struct{}

func (NoneCodec) Name() string { return "none" }

func (NoneCodec) Encode(string) (string, error) { return "", nil }

func (NoneCodec) Decode(stored string) (string, error) { return stored, nil }

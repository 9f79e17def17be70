package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrBadSnapshot marks a snapshot payload that cannot be decoded. The
// offending message is dropped; processing continues.
var ErrBadSnapshot = errors.New("malformed canvas snapshot")

// EncodeSnapshot turns a surface into the opaque wire encoding:
// base64(zstd(png)). Peers treat the result as a blob to apply verbatim.
func EncodeSnapshot(img image.Image) (string, error) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		return "", fmt.Errorf("encode snapshot png: %w", err)
	}

	var out bytes.Buffer
	zw, err := zstd.NewWriter(&out,
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := zw.Write(pngBuf.Bytes()); err != nil {
		zw.Close()
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("flush snapshot: %w", err)
	}

	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// DecodeSnapshot reverses EncodeSnapshot. Any failure at any layer reports
// ErrBadSnapshot.
func DecodeSnapshot(snapshot string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrBadSnapshot, err)
	}

	zr, err := zstd.NewReader(bytes.NewReader(raw),
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrBadSnapshot, err)
	}
	defer zr.Close()

	pngBytes, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrBadSnapshot, err)
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: png: %v", ErrBadSnapshot, err)
	}
	return img, nil
}

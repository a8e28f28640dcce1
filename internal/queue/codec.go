package queue

import (
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultGzipLevel is used for queue item compression.
const defaultGzipLevel = gzip.BestSpeed

// EncodeGzip compresses data at the given gzip level.
func EncodeGzip(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeGzip decompresses a gzip stream produced by EncodeGzip.
func DecodeGzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

// MarshalItems JSON-encodes each value into its own queue item.
func MarshalItems(values []interface{}) ([][]byte, error) {
	items := make([][]byte, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding queue item: %w", err)
		}
		items = append(items, data)
	}
	return items, nil
}

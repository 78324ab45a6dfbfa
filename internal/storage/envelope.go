package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Envelope wraps every stored value so the write timestamp and compression
// flag travel with the data without a separate metadata store. When Compressed
// is true, Value holds a JSON string containing base64(gzip(serialized value)).
type Envelope struct {
	Value      json.RawMessage `json:"value"`
	Timestamp  int64           `json:"timestamp"` // epoch milliseconds
	Compressed bool            `json:"compressed"`
}

// WrapValue serializes value into an envelope, compressing it when asked.
func WrapValue(value any, compress bool, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("serializing value: %w", err)
	}

	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(raw); err != nil {
			return nil, fmt.Errorf("compressing value: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("finalizing compression: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
		if raw, err = json.Marshal(encoded); err != nil {
			return nil, fmt.Errorf("encoding compressed value: %w", err)
		}
	}

	env := Envelope{
		Value:      raw,
		Timestamp:  now.UnixMilli(),
		Compressed: compress,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("serializing envelope: %w", err)
	}
	return data, nil
}

// UnwrapValue parses an envelope and returns the original serialized value,
// decompressing it when the envelope was written compressed.
func UnwrapValue(data []byte) (json.RawMessage, *Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("parsing envelope: %w", err)
	}

	if !env.Compressed {
		return env.Value, &env, nil
	}

	var encoded string
	if err := json.Unmarshal(env.Value, &encoded); err != nil {
		return nil, nil, fmt.Errorf("parsing compressed value: %w", err)
	}
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding compressed value: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("opening compressed value: %w", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing value: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, nil, fmt.Errorf("finalizing decompression: %w", err)
	}
	return raw, &env, nil
}

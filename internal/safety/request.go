package safety

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrBodyTooLarge indicates a request body exceeded the configured read limit.
var ErrBodyTooLarge = errors.New("request body too large")

// ReadAllWithLimit reads from r and fails if content exceeds limit bytes.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid read limit: %d", limit)
	}
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// DecodeJSON reads at most limit bytes from r into v. An empty body leaves
// v untouched so handlers can treat every field as optional.
func DecodeJSON(r io.Reader, limit int64, v any) error {
	data, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// IsLoopbackListen reports whether a host:port listen address only binds
// loopback interfaces.
func IsLoopbackListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

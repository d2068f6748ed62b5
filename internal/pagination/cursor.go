// Package pagination implements opaque cursor-based pagination for
// keyset-paginated listings (pipeline execution logs, cached message
// history), grounded on pkg/pagination/cursor.go's timestamp+id cursor
// shape.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLimit and MaxLimit bound page sizes accepted from callers.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Cursor is a stable pagination position: a timestamp plus a tie-breaking
// id, ordered (timestamp, id) descending.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Encode serializes the cursor to an opaque string safe to hand to a
// client. Format: base64("ts:{unix_nanos}:id:{id}").
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("ts:%d:id:%s", c.Timestamp.UnixNano(), c.ID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an encoded cursor string. An empty string decodes to
// a nil cursor (meaning "start from the beginning").
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("pagination: invalid cursor encoding: %w", err)
	}
	raw := string(data)
	if !strings.HasPrefix(raw, "ts:") {
		return nil, fmt.Errorf("pagination: invalid cursor format: missing ts prefix")
	}
	parts := strings.SplitN(raw[len("ts:"):], ":id:", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("pagination: invalid cursor format: missing id segment")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("pagination: invalid cursor timestamp: %w", err)
	}
	return &Cursor{Timestamp: time.Unix(0, nanos), ID: parts[1]}, nil
}

// ClampLimit applies DefaultLimit/MaxLimit to a client-requested page size.
func ClampLimit(requested int) int {
	if requested <= 0 {
		return DefaultLimit
	}
	if requested > MaxLimit {
		return MaxLimit
	}
	return requested
}

package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Cursor is an opaque, strictly increasing position inside one room or feed.
// The zero cursor means "from the beginning" (or "newest" when paging back).
type Cursor int64

const cursorPrefix = "c"

func (c Cursor) String() string {
	if c <= 0 {
		return ""
	}
	return cursorPrefix + strconv.FormatInt(int64(c), 36)
}

func (c Cursor) Seq() int64 { return int64(c) }

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	parsed, err := ParseCursor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.HasPrefix(s, cursorPrefix) {
		return 0, fmt.Errorf("invalid cursor %q", s)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, cursorPrefix), 36, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q", s)
	}
	return Cursor(n), nil
}

// NewID returns a lexicographically sortable, globally unique id.
func NewID() string {
	return ulid.Make().String()
}

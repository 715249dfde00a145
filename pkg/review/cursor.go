package review

import (
	"encoding/base64"
	"strings"
	"time"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

// Cursor is the position after which the next page starts.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode returns the opaque form handed to clients.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor. An empty string means the first page.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, intakeerrors.Validationf("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, intakeerrors.Validationf("invalid cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, intakeerrors.Validationf("invalid cursor")
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

func cursorOf(i *Item) Cursor {
	return Cursor{CreatedAt: i.CreatedAt, ID: i.ID}
}

// before reports whether i sorts strictly before the cursor position.
func (c Cursor) before(i *Item) bool {
	if !i.CreatedAt.Equal(c.CreatedAt) {
		return c.CreatedAt.Before(i.CreatedAt)
	}
	return c.ID < i.ID
}

package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/dominion-sim/internal/worker/storage"
)

// ErrInvalidCursor is returned for cursors this API did not issue
var ErrInvalidCursor = errors.New("invalid cursor")

// DecodeWorkItemCursor parses an opaque list cursor. An empty string means
// the first page and yields a nil cursor.
func DecodeWorkItemCursor(raw string) (*storage.WorkItemCursor, error) {
	if raw == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	nanos, id, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing work item id", ErrInvalidCursor)
	}

	createdAt, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}

	return &storage.WorkItemCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        id,
	}, nil
}

// EncodeWorkItemCursor is the inverse of DecodeWorkItemCursor
func EncodeWorkItemCursor(cursor *storage.WorkItemCursor) string {
	raw := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

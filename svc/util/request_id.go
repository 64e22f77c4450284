package util

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const ridKey ctxKey = iota

// NewRequestID mints the correlation id attached to every request and to
// long-lived background tasks.
func NewRequestID() string {
	return uuid.NewString()
}

func SetRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ridKey, rid)
}

// GetRequestID returns the id stored on ctx. A fresh one is minted when the
// context carries none, so log lines are always correlatable.
func GetRequestID(ctx context.Context) string {
	if rid, ok := ctx.Value(ridKey).(string); ok && rid != "" {
		return rid
	}
	return NewRequestID()
}

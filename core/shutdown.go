package core

import (
	"context"
)

// ShutdownFunc is a cleanup run during graceful shutdown. It should honor
// the context deadline and be safe to call more than once.
//
//	var closeDB ShutdownFunc = func(ctx context.Context) error {
//	    return database.Close()
//	}
type ShutdownFunc func(ctx context.Context) error

// internal/app/server_test.go
package app

import (
	"context"
	"testing"
	"time"
)

func TestShutdownBeforeStart(t *testing.T) {
	srv := NewServer()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The signal handler may win the race with a failed startup; Shutdown
	// must still be safe to call.
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown on an unstarted server: %v", err)
	}
}

package cli

import (
	"context"
	"testing"
)

func TestSetupSignalHandler(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SetupSignalHandler(parent)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be cancelled initially")
	default:
	}

	cancel()
	<-ctx.Done()
	if ctx.Err() == nil {
		t.Error("Expected context error after parent cancellation")
	}
}

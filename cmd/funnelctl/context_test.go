package main

import (
	"context"
	"testing"
)

// testContext returns a context canceled when the test finishes
// (stand-in for testing.T.Context on older toolchains).
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

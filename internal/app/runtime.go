package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv switches binaries into a no-op mode so `go test ./...` can
// import main packages without dialing Postgres or Redis.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether runtime side effects should be skipped.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}

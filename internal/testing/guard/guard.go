// Package guard switches binaries into test mode when imported by tests, so
// their main functions return before dialing postgres or redis.
package guard

import (
	"os"
	"sync"
)

// EnvKey is the variable read by app.InTestMode.
const EnvKey = "ODYSSEY_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvKey) == "" {
			_ = os.Setenv(EnvKey, "1")
		}
	})
}

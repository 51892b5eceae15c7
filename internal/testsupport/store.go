package testsupport

import (
	"testing"

	"genfetch/internal/config"
	"genfetch/internal/recovery"
)

// MustOpenLog opens the recovery log for cfg and closes it when the test ends.
func MustOpenLog(t testing.TB, cfg *config.Config, opts ...recovery.Option) *recovery.Store {
	t.Helper()

	store, err := recovery.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("recovery.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

package testsupport

import (
	"testing"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/session"
)

// MustOpenLinkStore opens a links.Store for tests and registers cleanup.
func MustOpenLinkStore(t testing.TB, cfg *config.Config) *links.Store {
	t.Helper()

	store, err := links.Open(cfg)
	if err != nil {
		t.Fatalf("links.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenSessionStore opens a session.Store for tests and registers cleanup.
func MustOpenSessionStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()

	store, err := session.Open(cfg)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

package objectstore_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cardiolink/internal/objectstore"
	"cardiolink/internal/testsupport"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	token   string
}

func newFakeStore(token string) (*fakeStore, *httptest.Server) {
	store := &fakeStore{objects: make(map[string][]byte), token: token}
	return store, httptest.NewServer(store)
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/v1/objects/")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = body
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		} else {
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestClientRoundTrip(t *testing.T) {
	store, server := newFakeStore("secret")
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRemote(server.URL, "holter", "secret"))
	client, err := objectstore.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	key, err := client.Put(ctx, "DEV42_01mai2024/recording.csv", strings.NewReader("csv-bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if key != "DEV42_01mai2024/recording.csv" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, ok := store.objects["holter/DEV42_01mai2024/recording.csv"]; !ok {
		t.Fatalf("object not stored under bucket-prefixed key: %v", store.objects)
	}

	body, err := client.Get(ctx, "DEV42_01mai2024/recording.csv")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "csv-bytes" {
		t.Fatalf("unexpected body %q", data)
	}

	if _, err := client.Stat(ctx, "DEV42_01mai2024/recording.csv"); err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
}

func TestClientNotFound(t *testing.T) {
	_, server := newFakeStore("secret")
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRemote(server.URL, "holter", "secret"))
	client, err := objectstore.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := client.Get(ctx, "missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if _, err := client.Stat(ctx, "missing"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Stat, got %v", err)
	}
}

func TestNewRequiresEnabledRemote(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := objectstore.New(cfg, nil); !errors.Is(err, objectstore.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRemote(server.URL, "holter", "secret"))
	client, err := objectstore.New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	body, err := client.Get(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	_ = body.Close()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

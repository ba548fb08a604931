package links_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cardiolink/internal/links"
	"cardiolink/internal/testsupport"
)

func sampleLink(device string) links.NewLink {
	date := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	return links.NewLink{
		DeviceID:      device,
		RecordingDate: date,
		StartTime:     date.Add(8 * time.Hour),
		EndTime:       date.Add(16 * time.Hour),
		OutputFolder:  "/out/" + device + "_01mai2024",
		StorageRefs: []links.StorageRef{
			{Kind: links.StorageLocal, Location: "/out/" + device + "_01mai2024/recording.csv"},
			{Kind: links.StorageLocal, Location: "/out/" + device + "_01mai2024/report.pdf"},
		},
	}
}

func TestRegisterMintsUnguessableToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	link, created, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !created {
		t.Fatal("expected first registration to create a link")
	}
	if len(link.Token) < 32 {
		t.Fatalf("token too short to be unguessable: %q", link.Token)
	}
	if !link.Active {
		t.Fatal("expected new link to be active")
	}
	if link.ViewCount != 0 {
		t.Fatalf("expected zero initial views, got %d", link.ViewCount)
	}

	other, _, err := store.Register(ctx, sampleLink("DEV99"))
	if err != nil {
		t.Fatalf("Register second device failed: %v", err)
	}
	if other.Token == link.Token {
		t.Fatal("tokens for distinct devices must differ")
	}
}

func TestRegisterIsIdempotentPerDeviceDate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	first, created, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !created {
		t.Fatal("expected first registration to create")
	}

	second, created, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}
	if created {
		t.Fatal("expected repeat registration to reuse the existing link")
	}
	if second.Token != first.Token {
		t.Fatalf("expected same token, got %q and %q", first.Token, second.Token)
	}

	// Same device on a different date is a fresh link.
	meta := sampleLink("DEV42")
	meta.RecordingDate = meta.RecordingDate.AddDate(0, 0, 1)
	third, created, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register on new date failed: %v", err)
	}
	if !created || third.Token == first.Token {
		t.Fatalf("expected new link for new date, created=%v token=%q", created, third.Token)
	}
}

func TestRegisterConcurrentSameKeyYieldsOneLink(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	const workers = 8
	tokens := make([]string, workers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			link, created, err := store.Register(ctx, sampleLink("DEV42"))
			if err != nil {
				t.Errorf("Register failed: %v", err)
				return
			}
			tokens[idx] = link.Token
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
	for _, token := range tokens[1:] {
		if token != tokens[0] {
			t.Fatalf("expected all workers to see the same token: %v", tokens)
		}
	}
}

func TestReissueMintsFreshToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	first, _, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reissued, err := store.Reissue(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Reissue failed: %v", err)
	}
	if reissued.Token == first.Token {
		t.Fatal("expected reissue to mint a new token")
	}

	// The original remains resolvable alongside the reissued one.
	if _, err := store.Resolve(ctx, first.Token, false); err != nil {
		t.Fatalf("original token should still resolve: %v", err)
	}
	if _, err := store.Resolve(ctx, reissued.Token, false); err != nil {
		t.Fatalf("reissued token should resolve: %v", err)
	}
}

func TestResolveTracksViews(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	link, _, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := store.Resolve(ctx, link.Token, true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.ViewCount != 1 {
		t.Fatalf("expected view count 1, got %d", first.ViewCount)
	}
	if first.LastViewedAt == nil {
		t.Fatal("expected last viewed timestamp to be set")
	}

	second, err := store.Resolve(ctx, link.Token, true)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if second.ViewCount != 2 {
		t.Fatalf("expected view count 2, got %d", second.ViewCount)
	}

	// A non-tracking read leaves the counter alone.
	peek, err := store.Resolve(ctx, link.Token, false)
	if err != nil {
		t.Fatalf("untracked Resolve failed: %v", err)
	}
	if peek.ViewCount != 2 {
		t.Fatalf("expected untracked resolve to keep count at 2, got %d", peek.ViewCount)
	}
}

func TestResolveUniformNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	link, _, err := store.Register(ctx, sampleLink("DEV42"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := store.Deactivate(ctx, link.Token); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	_, inactiveErr := store.Resolve(ctx, link.Token, false)
	_, missingErr := store.Resolve(ctx, "no-such-token", false)
	if !errors.Is(inactiveErr, links.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive token, got %v", inactiveErr)
	}
	if !errors.Is(missingErr, links.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing token, got %v", missingErr)
	}
	if inactiveErr.Error() != missingErr.Error() {
		t.Fatalf("inactive and missing tokens must be indistinguishable: %q vs %q",
			inactiveErr, missingErr)
	}

	ok, err := store.Validate(ctx, link.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ok {
		t.Fatal("expected deactivated token to fail validation")
	}
}

func TestListRecordingsPreservesOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	meta := sampleLink("DEV42")
	meta.StorageRefs = []links.StorageRef{
		{Kind: links.StorageLocal, Location: "/out/a.csv"},
		{Kind: links.StorageRemote, Location: "buckets/holter/a.pdf"},
		{Kind: links.StorageLocal, Location: "/out/notes.txt"},
	}
	link, _, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	refs, err := store.ListRecordings(ctx, link.Token)
	if err != nil {
		t.Fatalf("ListRecordings failed: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	for i, ref := range refs {
		if ref != meta.StorageRefs[i] {
			t.Fatalf("ref %d out of order: got %+v want %+v", i, ref, meta.StorageRefs[i])
		}
	}
}

func TestFindActiveByDeviceDate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	meta := sampleLink("DEV42")
	link, _, err := store.Register(ctx, meta)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	found, err := store.FindActiveByDeviceDate(ctx, "DEV42", meta.RecordingDate)
	if err != nil {
		t.Fatalf("FindActiveByDeviceDate failed: %v", err)
	}
	if found == nil || found.Token != link.Token {
		t.Fatalf("expected to find registered link, got %#v", found)
	}

	none, err := store.FindActiveByDeviceDate(ctx, "DEV42", meta.RecordingDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("FindActiveByDeviceDate for other date failed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for unregistered date, got %#v", none)
	}

	if _, err := store.Deactivate(ctx, link.Token); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	gone, err := store.FindActiveByDeviceDate(ctx, "DEV42", meta.RecordingDate)
	if err != nil {
		t.Fatalf("FindActiveByDeviceDate after deactivate failed: %v", err)
	}
	if gone != nil {
		t.Fatal("expected deactivated link to be invisible to idempotence lookups")
	}
}

func TestListOrdersByRecency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLinkStore(t, cfg)
	ctx := context.Background()

	devices := []string{"DEV1", "DEV2", "DEV3"}
	for _, device := range devices {
		if _, _, err := store.Register(ctx, sampleLink(device)); err != nil {
			t.Fatalf("Register %s failed: %v", device, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 links, got %d", len(all))
	}
	if all[0].DeviceID != "DEV3" || all[2].DeviceID != "DEV1" {
		t.Fatalf("expected newest first, got %s .. %s", all[0].DeviceID, all[2].DeviceID)
	}

	limited, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
}

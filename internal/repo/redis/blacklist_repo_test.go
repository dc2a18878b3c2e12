package redis_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/antonrudenka/blogger-api/internal/repo/redis"
)

func TestBlacklistAddIsAtomicPerToken(t *testing.T) {
	repo, _, cleanup := newBlacklistRepoForTest(t)
	defer cleanup()

	ctx := context.Background()
	firstUse, err := repo.Add(ctx, "token-1", time.Hour)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if !firstUse {
		t.Fatalf("first add should report first use")
	}

	firstUse, err = repo.Add(ctx, "token-1", time.Hour)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if firstUse {
		t.Fatalf("second add of the same token must not report first use")
	}

	contains, err := repo.Contains(ctx, "token-1")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !contains {
		t.Fatalf("blacklisted token should be reported as contained")
	}

	contains, err = repo.Contains(ctx, "token-2")
	if err != nil {
		t.Fatalf("contains unknown token: %v", err)
	}
	if contains {
		t.Fatalf("unknown token must not be reported as contained")
	}
}

func TestBlacklistEntriesExpireWithTokenLifetime(t *testing.T) {
	repo, mini, cleanup := newBlacklistRepoForTest(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := repo.Add(ctx, "token-1", time.Minute); err != nil {
		t.Fatalf("add: %v", err)
	}

	mini.FastForward(2 * time.Minute)

	contains, err := repo.Contains(ctx, "token-1")
	if err != nil {
		t.Fatalf("contains after expiry: %v", err)
	}
	if contains {
		t.Fatalf("entry should be pruned after the token's own expiry")
	}
}

func TestBlacklistAddFloorsNonPositiveTTL(t *testing.T) {
	repo, _, cleanup := newBlacklistRepoForTest(t)
	defer cleanup()

	ctx := context.Background()
	firstUse, err := repo.Add(ctx, "token-1", -time.Minute)
	if err != nil {
		t.Fatalf("add with negative ttl: %v", err)
	}
	if !firstUse {
		t.Fatalf("add should succeed with floored ttl")
	}

	firstUse, err = repo.Add(ctx, "token-1", -time.Minute)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if firstUse {
		t.Fatalf("token must stay blocked while the floored ttl lasts")
	}
}

func newBlacklistRepoForTest(t *testing.T) (*redrepo.BlacklistRepo, *miniredis.Miniredis, func()) {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	repo := redrepo.NewBlacklistRepo(client)

	cleanup := func() {
		_ = client.Close()
		mini.Close()
	}

	return repo, mini, cleanup
}

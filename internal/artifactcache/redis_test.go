package artifactcache

import (
	"context"
	"testing"

	"rewardjar/internal/domain"
)

func TestDisabledCacheMisses(t *testing.T) {
	ctx := context.Background()
	var nilCache *Cache
	if err := nilCache.Set(ctx, domain.StoredArtifact{RequestID: "r1"}); err != nil {
		t.Fatalf("set on nil cache: %v", err)
	}
	if _, ok, err := nilCache.Get(ctx, "r1"); ok || err != nil {
		t.Fatalf("nil cache should miss, ok=%v err=%v", ok, err)
	}
	empty := &Cache{}
	if _, ok, err := empty.Get(ctx, "r1"); ok || err != nil {
		t.Fatalf("cache without client should miss, ok=%v err=%v", ok, err)
	}
	if err := empty.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestKeyUsesPrefix(t *testing.T) {
	c := &Cache{Prefix: "rj:"}
	if got := c.key("abc"); got != "rj:artifact:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

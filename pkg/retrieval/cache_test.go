package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingRetriever struct {
	calls int
	docs  []Document
	err   error
}

func (c *countingRetriever) Query(context.Context, string, int) ([]Document, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.docs, nil
}

func newCacheUnderTest(t *testing.T, inner Retriever) (*CachedRetriever, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCachedRetriever(inner, client, time.Minute), mr
}

func TestCachedRetrieverServesSecondQueryFromCache(t *testing.T) {
	inner := &countingRetriever{docs: []Document{{ID: "d1", Snippet: "open 9-5", Score: 0.9}}}
	c, _ := newCacheUnderTest(t, inner)

	for i := 0; i < 3; i++ {
		docs, err := c.Query(context.Background(), "opening hours", 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 || docs[0].ID != "d1" {
			t.Fatalf("docs = %+v", docs)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d", inner.calls)
	}
}

func TestCachedRetrieverNormalizesQueryText(t *testing.T) {
	inner := &countingRetriever{docs: []Document{{ID: "d1"}}}
	c, _ := newCacheUnderTest(t, inner)

	if _, err := c.Query(context.Background(), "Opening   Hours", 3); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Query(context.Background(), "opening hours", 3); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d", inner.calls)
	}
	// A different top_k is a different result set.
	if _, err := c.Query(context.Background(), "opening hours", 5); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d", inner.calls)
	}
}

func TestCachedRetrieverDropsCorruptEntries(t *testing.T) {
	inner := &countingRetriever{docs: []Document{{ID: "d1"}}}
	c, mr := newCacheUnderTest(t, inner)

	key := cacheKey("broken entry", 3)
	mr.Set(key, "{definitely not json")

	docs, err := c.Query(context.Background(), "broken entry", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || inner.calls != 1 {
		t.Fatalf("docs=%v calls=%d", docs, inner.calls)
	}
}

func TestCachedRetrieverPropagatesInnerErrors(t *testing.T) {
	inner := &countingRetriever{err: errors.New("index offline")}
	c, _ := newCacheUnderTest(t, inner)

	if _, err := c.Query(context.Background(), "anything", 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestCachedRetrieverSurvivesRedisOutage(t *testing.T) {
	inner := &countingRetriever{docs: []Document{{ID: "d1"}}}
	c, mr := newCacheUnderTest(t, inner)
	mr.Close()

	docs, err := c.Query(context.Background(), "hours", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("docs = %v", docs)
	}
}

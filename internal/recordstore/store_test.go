package recordstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
)

// harness exposes a Store plus hooks to corrupt a raw value and advance time.
type harness struct {
	store   Store
	putRaw  func(key, value string)
	advance func(d time.Duration)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func redisHarness(t *testing.T) harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := newRedis(client, 0, quietLogger())
	t.Cleanup(func() { s.Close() })
	return harness{
		store:   s,
		putRaw:  func(key, value string) { _ = mr.Set(key, value) },
		advance: mr.FastForward,
	}
}

func sqliteHarness(t *testing.T) harness {
	t.Helper()
	f, err := os.CreateTemp("", "quill-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := OpenSQLite(f.Name(), 0, quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Now()
	s.now = func() time.Time { return clock }
	return harness{
		store: s,
		putRaw: func(key, value string) {
			_, err := s.conn.Exec(`INSERT INTO records (key, value, expires_at) VALUES (?, ?, ?)`,
				key, value, clock.Add(time.Hour).UnixMilli())
			if err != nil {
				t.Fatal(err)
			}
		},
		advance: func(d time.Duration) { clock = clock.Add(d) },
	}
}

var harnesses = map[string]func(*testing.T) harness{
	"redis":  redisHarness,
	"sqlite": sqliteHarness,
}

func draft(id, title string) *models.Record {
	return &models.Record{
		ID:        id,
		Title:     title,
		Content:   "body of " + title,
		CreatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, h harness)) {
	for name, mk := range harnesses {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func TestPutAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		rec := draft("r1", "Hello")
		rec.Tags = []string{"go", "blog"}
		if err := h.store.Put(ctx, models.KindNote, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := h.store.Get(ctx, models.KindNote, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Title != "Hello" || len(got.Tags) != 2 || !got.CreatedAt.Equal(rec.CreatedAt) {
			t.Errorf("got %+v", got)
		}
	})
}

func TestGet_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		_, err := h.store.Get(context.Background(), models.KindNote, "missing")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestKindsAreIsolated(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_ = h.store.Put(ctx, models.KindNote, draft("same", "A note"))
		if _, err := h.store.Get(ctx, models.KindPost, "same"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("post lookup of a note id: err = %v", err)
		}
		posts, err := h.store.List(ctx, models.KindPost)
		if err != nil {
			t.Fatal(err)
		}
		if len(posts) != 0 {
			t.Errorf("posts = %d, want 0", len(posts))
		}
	})
}

func TestPut_OverwritesUnconditionally(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_ = h.store.Put(ctx, models.KindPost, draft("p", "First"))
		_ = h.store.Put(ctx, models.KindPost, draft("p", "Second"))
		got, err := h.store.Get(ctx, models.KindPost, "p")
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != "Second" {
			t.Errorf("title = %q, want last write", got.Title)
		}
	})
}

func TestPut_RejectsInvalidRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		rec := draft("bad", "Bad")
		rec.Published = true // no slug
		if err := h.store.Put(ctx, models.KindNote, rec); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("err = %v, want ErrValidation", err)
		}
		if _, err := h.store.Get(ctx, models.KindNote, "bad"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("invalid record was stored")
		}
	})
}

func TestList_SkipsCorruptEntries(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_ = h.store.Put(ctx, models.KindNote, draft("a", "A"))
		_ = h.store.Put(ctx, models.KindNote, draft("b", "B"))
		h.putRaw("note:corrupt", "{not json")
		h.putRaw("note:noid", `{"title":"orphan"}`)

		recs, err := h.store.List(ctx, models.KindNote)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		sort.Strings(ids)
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("ids = %v, want [a b]", ids)
		}
	})
}

func TestGet_InvalidStoredValueIsCorrupt(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		h.putRaw("note:bad-1", `{"id":"bad-1","title":"T","content":"c","createdAt":"2026-10-01T12:00:00Z","published":true}`)
		h.putRaw("note:bad-2", "{not json")

		for _, id := range []string{"bad-1", "bad-2"} {
			_, err := h.store.Get(context.Background(), models.KindNote, id)
			if !errors.Is(err, apperr.ErrCorrupt) {
				t.Errorf("Get(%s) err = %v, want ErrCorrupt", id, err)
			}
			if errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Get(%s) err = %v, must not be a validation error", id, err)
			}
		}
	})
}

// dupScan doubles every SCAN page, as a server may during rehashing.
type dupScan struct{}

func (dupScan) DialHook(next redis.DialHook) redis.DialHook { return next }

func (dupScan) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (dupScan) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if sc, ok := cmd.(*redis.ScanCmd); ok && err == nil {
			page, cursor := sc.Val()
			sc.SetVal(append(page, page...), cursor)
		}
		return err
	}
}

var _ redis.Hook = dupScan{}

func TestRedisList_DeduplicatesScanKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(dupScan{})
	s := newRedis(client, 0, quietLogger())
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_ = s.Put(ctx, models.KindNote, draft("a", "A"))
	_ = s.Put(ctx, models.KindNote, draft("b", "B"))

	recs, err := s.List(ctx, models.KindNote)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len(records) = %d, want 2", len(recs))
	}
}

func TestDelete_ReportsPresence(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_ = h.store.Put(ctx, models.KindNote, draft("d", "D"))
		removed, err := h.store.Delete(ctx, models.KindNote, "d")
		if err != nil || !removed {
			t.Fatalf("first delete = %v, %v", removed, err)
		}
		removed, err = h.store.Delete(ctx, models.KindNote, "d")
		if err != nil || removed {
			t.Fatalf("second delete = %v, %v; want false, nil", removed, err)
		}
	})
}

func TestExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, h harness) {
		ctx := context.Background()
		_ = h.store.Put(ctx, models.KindNote, draft("ttl", "TTL"))
		h.advance(TTL - time.Minute)
		if _, err := h.store.Get(ctx, models.KindNote, "ttl"); err != nil {
			t.Fatalf("record expired early: %v", err)
		}
		h.advance(2 * time.Minute)
		if _, err := h.store.Get(ctx, models.KindNote, "ttl"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound after TTL", err)
		}
		recs, _ := h.store.List(ctx, models.KindNote)
		if len(recs) != 0 {
			t.Errorf("expired record listed")
		}
	})
}

func TestUnconfigured(t *testing.T) {
	var s Store = Unconfigured{}
	ctx := context.Background()
	if _, err := s.Get(ctx, models.KindNote, "x"); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("Get err = %v", err)
	}
	if err := s.Put(ctx, models.KindNote, draft("x", "X")); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("Put err = %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("Ping err = %v", err)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis("http://nope", time.Second, 0, nil); err == nil {
		t.Error("expected error for non-redis url")
	}
}

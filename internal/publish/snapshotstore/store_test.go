package snapshotstore

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/panoview-bridge/internal/publish/redisstore"
)

func newStore(t *testing.T, ttl time.Duration) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc, err := redisstore.New(t.Context(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisStore(rc, ttl, time.Second), mr
}

func TestPutGetDel(t *testing.T) {
	s, mr := newStore(t, time.Minute)
	ctx := t.Context()

	snap := Snapshot{Features: []byte(`{"type":"FeatureCollection","features":[]}`), Style: "<sld/>"}
	if err := s.Put(ctx, "map 1", "Trees", snap); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("overlay:map_1:Trees:features") {
		t.Fatalf("features key missing; keys=%v", mr.Keys())
	}
	if ttl := mr.TTL("overlay:map_1:Trees:fp"); ttl != time.Minute {
		t.Fatalf("fp ttl=%v want 1m", ttl)
	}

	got, err := s.Get(ctx, "map 1", "Trees")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Features) != string(snap.Features) || got.Style != snap.Style {
		t.Fatalf("got %+v", got)
	}
	if got.Fingerprint != Fingerprint(snap.Features, snap.Style) {
		t.Fatalf("fingerprint=%q", got.Fingerprint)
	}

	if err := s.Del(ctx, "map 1", "Trees"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := s.Get(ctx, "map 1", "Trees"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after Del err=%v want ErrNotFound", err)
	}
}

func TestGet_DetectsTornWrite(t *testing.T) {
	s, mr := newStore(t, 0)
	ctx := t.Context()

	if err := s.Put(ctx, "m", "roads", Snapshot{Features: []byte("{}"), Style: "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mr.Set("overlay:m:roads:style", "b"); err != nil {
		t.Fatalf("mr.Set: %v", err)
	}
	if _, err := s.Get(ctx, "m", "roads"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v want ErrCorrupt", err)
	}
}

func TestGet_CanceledContext(t *testing.T) {
	s, _ := newStore(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Get(ctx, "m", "l"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want transport error", err)
	}
}

func TestFingerprint_SeparatesFeaturesFromStyle(t *testing.T) {
	a := Fingerprint([]byte("ab"), "c")
	b := Fingerprint([]byte("a"), "bc")
	if a == b {
		t.Fatalf("fingerprints collide: %s", a)
	}
	if len(a) != 16 {
		t.Fatalf("len=%d want 16", len(a))
	}
}

func TestBaseKey_Sanitizes(t *testing.T) {
	cases := []struct{ mapID, layer, want string }{
		{"m", "Trees", "overlay:m:Trees"},
		{"  m  ", "street  lights", "overlay:m:street_lights"},
		{"m", "a/b:c", "overlay:m:a-b-c"},
		{"", "", "overlay:_:_"},
	}
	for _, tc := range cases {
		if got := baseKey(tc.mapID, tc.layer); got != tc.want {
			t.Fatalf("baseKey(%q,%q)=%q want %q", tc.mapID, tc.layer, got, tc.want)
		}
	}
}

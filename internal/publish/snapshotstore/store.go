// Package snapshotstore publishes the latest overlay payload of every
// bound layer so other processes can read it without asking the bridge.
package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/panoview-bridge/internal/publish/redisstore"
)

var (
	ErrNotFound = errors.New("snapshot not found")
	ErrCorrupt  = errors.New("snapshot fingerprint mismatch")
)

// Snapshot is the serialized overlay of one layer.
type Snapshot struct {
	Features    []byte
	Style       string
	Fingerprint string
}

type Store interface {
	Put(ctx context.Context, mapID, layer string, s Snapshot) error
	Get(ctx context.Context, mapID, layer string) (Snapshot, error)
	Del(ctx context.Context, mapID, layer string) error
}

type redisSnapshotStore struct {
	cli       *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
}

// NewRedisStore returns a Store writing through cli. A non-positive
// opTimeout leaves the caller's deadline alone.
func NewRedisStore(cli *redisstore.Client, ttl, opTimeout time.Duration) Store {
	return &redisSnapshotStore{cli: cli, ttl: ttl, opTimeout: opTimeout}
}

func (s *redisSnapshotStore) Put(ctx context.Context, mapID, layer string, snap Snapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	base := baseKey(mapID, layer)
	kv := map[string][]byte{
		base + ":features": snap.Features,
		base + ":style":    []byte(snap.Style),
		base + ":fp":       []byte(Fingerprint(snap.Features, snap.Style)),
	}
	if err := s.cli.MSetWithTTL(ctx, kv, s.ttl); err != nil {
		return fmt.Errorf("snapshotstore put %q: %w", base, err)
	}
	return nil
}

func (s *redisSnapshotStore) Get(ctx context.Context, mapID, layer string) (Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	base := baseKey(mapID, layer)
	raw, err := s.cli.MGet(ctx, []string{base + ":features", base + ":style", base + ":fp"})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshotstore get %q: %w", base, err)
	}
	feats, ok := raw[base+":features"]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap := Snapshot{
		Features:    feats,
		Style:       string(raw[base+":style"]),
		Fingerprint: string(raw[base+":fp"]),
	}
	if snap.Fingerprint != Fingerprint(snap.Features, snap.Style) {
		return Snapshot{}, fmt.Errorf("snapshotstore get %q: %w", base, ErrCorrupt)
	}
	return snap, nil
}

func (s *redisSnapshotStore) Del(ctx context.Context, mapID, layer string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	base := baseKey(mapID, layer)
	if err := s.cli.Del(ctx, base+":features", base+":style", base+":fp"); err != nil {
		return fmt.Errorf("snapshotstore del %q: %w", base, err)
	}
	return nil
}

func (s *redisSnapshotStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Fingerprint hashes features and style into 16 hex digits.
func Fingerprint(features []byte, style string) string {
	d := xxhash.New()
	_, _ = d.Write(features)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(style)
	return fmt.Sprintf("%016x", d.Sum64())
}

func baseKey(mapID, layer string) string {
	return "overlay:" + sanitize(strings.TrimSpace(mapID)) + ":" + sanitize(strings.TrimSpace(layer))
}

func sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}

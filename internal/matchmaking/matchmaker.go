// Package matchmaking picks a random idle partner for a requesting user.
package matchmaking

import (
	"crypto/rand"
	"log/slog"
	"math/big"

	"github.com/BioHazard786/shuffle/internal/presence"
)

// Matchmaker selects partners from a presence registry. It never mutates the
// registry; reserving the chosen partner is the caller's job.
type Matchmaker struct {
	registry *presence.Registry
	intn     func(n int) int
}

// Option configures a Matchmaker.
type Option func(*Matchmaker)

// WithIntn replaces the random source. intn must return a value in [0, n).
func WithIntn(intn func(n int) int) Option {
	return func(m *Matchmaker) { m.intn = intn }
}

// New creates a Matchmaker over registry.
func New(registry *presence.Registry, opts ...Option) *Matchmaker {
	m := &Matchmaker{registry: registry, intn: randomIndex}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Candidates returns every idle handle except the requester and excluded
// handles.
func (m *Matchmaker) Candidates(requester string, exclude ...string) []string {
	idle := m.registry.Idle()
	out := idle[:0]
	for _, h := range idle {
		if h == requester || contains(exclude, h) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// FindPartner returns a uniformly random candidate for requester, or false
// when nobody is available.
func (m *Matchmaker) FindPartner(requester string, exclude ...string) (string, bool) {
	candidates := m.Candidates(requester, exclude...)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[m.intn(len(candidates))], true
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		slog.Error("random source failed, falling back to first candidate", "err", err)
		return 0
	}
	return int(n.Int64())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package insult provides the fixed phrase pool used by the Insult message.
package insult

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/cyberinferno/go-chatroom/utils"
)

// DefaultPhrases is the built-in pool used when no phrase file is configured.
var DefaultPhrases = []string{
	"You ignorant buffoon.",
	"You half-witted dunce.",
	"You obtuse knave.",
	"You pompous fool.",
	"You daft imbecile.",
}

// ErrEmptyPool is returned when a pool would contain no phrases.
var ErrEmptyPool = errors.New("insult: pool has no phrases")

// Option configures a Pool.
type Option func(*Pool)

// WithSource makes Pick draw from rng instead of the global generator.
func WithSource(rng *rand.Rand) Option {
	return func(p *Pool) {
		p.rng = rng
	}
}

// Pool is an immutable ordered list of phrases. Pick is safe for concurrent use.
type Pool struct {
	phrases []string

	mu  sync.Mutex // serializes rng; unused when rng is nil
	rng *rand.Rand
}

// NewPool builds a pool from phrases. The slice is copied.
//
// Parameters:
//   - phrases: The phrases to pick from; must not be empty
//   - opts: Optional settings such as WithSource
//
// Returns:
//   - The new Pool, or ErrEmptyPool if phrases is empty
func NewPool(phrases []string, opts ...Option) (*Pool, error) {
	if len(phrases) == 0 {
		return nil, ErrEmptyPool
	}

	p := &Pool{phrases: append([]string(nil), phrases...)}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Default returns a pool over DefaultPhrases.
func Default(opts ...Option) *Pool {
	p, _ := NewPool(DefaultPhrases, opts...)
	return p
}

// LoadFile builds a pool from a text file with one phrase per line. Lines are
// trimmed and blank lines skipped.
func LoadFile(path string, opts ...Option) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("insult: open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var phrases []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			phrases = append(phrases, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("insult: read %s: %w", path, err)
	}

	p, err := NewPool(phrases, opts...)
	if err != nil {
		return nil, fmt.Errorf("insult: %s: %w", path, err)
	}

	return p, nil
}

// Pick returns a uniformly random phrase.
func (p *Pool) Pick() string {
	if p.rng == nil {
		phrase, _ := utils.GetRandomElement(nil, p.phrases)
		return phrase
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	phrase, _ := utils.GetRandomElement(p.rng, p.phrases)
	return phrase
}

// Len returns the number of phrases in the pool.
func (p *Pool) Len() int {
	return len(p.phrases)
}

// Phrases returns a copy of the pool's phrases in order.
func (p *Pool) Phrases() []string {
	return append([]string(nil), p.phrases...)
}

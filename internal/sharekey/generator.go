package sharekey

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const (
	// Alphabet lists the symbols a share key is drawn from. 0, O, I, 1 and L are excluded.
	Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	// DefaultLength is the length of a freshly generated key.
	DefaultLength = 8
	// FallbackLength is used once MaxAttempts keys in a row collided.
	FallbackLength = 12
	// MaxAttempts bounds the retries against the existing key set.
	MaxAttempts = 10

	minValidLength = 6
	maxValidLength = 12
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

// KeySet reports whether a key is already taken.
type KeySet interface {
	Contains(key string) bool
}

// Keys is a KeySet backed by a map.
type Keys map[string]struct{}

// NewKeys builds a Keys set from the provided values.
func NewKeys(values ...string) Keys {
	keys := make(Keys, len(values))
	for _, value := range values {
		keys[value] = struct{}{}
	}
	return keys
}

// Contains reports whether the key is present.
func (k Keys) Contains(key string) bool {
	_, ok := k[key]
	return ok
}

// IndexSource returns a uniformly distributed index in [0, n).
type IndexSource func(n int) (int, error)

// Generator produces share keys.
type Generator struct {
	source IndexSource
}

// NewGenerator constructs a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{source: cryptoIndex}
}

// NewGeneratorWithSource constructs a Generator drawing indexes from source.
func NewGeneratorWithSource(source IndexSource) *Generator {
	if source == nil {
		source = cryptoIndex
	}
	return &Generator{source: source}
}

// Generate returns a DefaultLength key not contained in existing, retrying up to
// MaxAttempts times before falling back to a FallbackLength key. The fallback is not
// checked against existing; callers re-check against durable storage before commit.
func (g *Generator) Generate(existing KeySet) (string, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		key, err := g.randomKey(DefaultLength)
		if err != nil {
			return "", err
		}
		if existing == nil || !existing.Contains(key) {
			return key, nil
		}
	}
	return g.randomKey(FallbackLength)
}

func (g *Generator) randomKey(length int) (string, error) {
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		index, err := g.source(len(Alphabet))
		if err != nil {
			return "", err
		}
		builder.WriteByte(Alphabet[index])
	}
	return builder.String(), nil
}

// Validate reports whether key has an acceptable length and only alphabet symbols,
// ignoring case.
func Validate(key string) bool {
	if len(key) < minValidLength || len(key) > maxValidLength {
		return false
	}
	for _, symbol := range strings.ToUpper(key) {
		if !strings.ContainsRune(Alphabet, symbol) {
			return false
		}
	}
	return true
}

// Normalize strips every non-alphanumeric character and upper-cases the rest.
func Normalize(key string) string {
	if key == "" {
		return ""
	}
	return strings.ToUpper(nonAlphanumeric.ReplaceAllString(key, ""))
}

func cryptoIndex(n int) (int, error) {
	value, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(value.Int64()), nil
}

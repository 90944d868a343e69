package frontier

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/cantrace/crawlkit/pkg/hashutil"
)

// Visited is the Frontier's membership store. ExactVisited is the
// default, used unless a Job is configured for the bloom-filter
// variant (a deliberate accuracy/memory tradeoff, never the default —
// see DESIGN.md's Open Question resolution).
type Visited interface {
	Contains(key string) bool
	Add(key string)
	Size() int
}

// ExactVisited is a plain set, adapted from the teacher's set.go: a
// map keyed on nothing but presence. Every Visited membership test is
// exact, which is what P1/P2 assume.
type ExactVisited map[string]struct{}

func NewExactVisited() ExactVisited {
	return make(ExactVisited)
}

func (s ExactVisited) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

func (s ExactVisited) Add(key string) {
	s[key] = struct{}{}
}

func (s ExactVisited) Size() int {
	return len(s)
}

// BloomVisited backs Visited with a Bloom filter instead of an exact
// set, fingerprinting canonical URLs with blake3 via pkg/hashutil. It
// trades a small, tunable false-positive rate (a URL wrongly treated
// as already visited, so it is silently never fetched) for O(1) memory
// independent of crawl size — appropriate only for crawls whose exact
// Visited set would not fit in memory. False negatives never happen,
// so it can never cause a duplicate fetch; it can only cause a missed
// one, which is why it stays opt-in rather than the default.
type BloomVisited struct {
	filter *bloom.BloomFilter
	count  int
}

// NewBloomVisited sizes the filter for expectedItems at the given
// falsePositiveRate (e.g. 0.001 for one-in-a-thousand).
func NewBloomVisited(expectedItems uint, falsePositiveRate float64) *BloomVisited {
	return &BloomVisited{filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate)}
}

func (b *BloomVisited) Contains(key string) bool {
	return b.filter.Test(fingerprint(key))
}

func (b *BloomVisited) Add(key string) {
	if b.filter.TestAndAdd(fingerprint(key)) {
		return
	}
	b.count++
}

func (b *BloomVisited) Size() int {
	return b.count
}

func fingerprint(key string) []byte {
	digest, _ := hashutil.HashBytes([]byte(key), hashutil.HashAlgoBLAKE3)
	return []byte(digest)
}

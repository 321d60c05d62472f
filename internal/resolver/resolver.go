// Package resolver picks a response address for a tagged query. The hour encoded in the tag selects
// a time bucket, the bucket selects a window of the address pool, and the tag's sequence id selects
// an address inside that window.
package resolver

import (
	"fmt"
	"strings"
)

// DefaultBucketSize is the width of the pool window assigned to each bucket.
const DefaultBucketSize = 5

// DefaultBucket names the implicit bucket used when no configured bucket covers an hour. It always
// starts at the beginning of the pool.
const DefaultBucket = "default"

// Bucket maps an inclusive hour range to a starting offset in the address pool.
type Bucket struct {
	Name  string
	Low   int
	High  int
	Start int
}

// Contains reports whether the bucket's inclusive hour range covers hour.
func (b Bucket) Contains(hour int) bool {
	return b.Low <= hour && hour <= b.High
}

// RuleSet is an ordered list of buckets. Ranges may overlap; the first bucket in declared order
// that covers an hour wins.
type RuleSet struct {
	Buckets    []Bucket
	BucketSize int
}

// Pool is the ordered list of candidate response addresses.
type Pool []string

// Resolution describes the outcome of resolving a single tag.
type Resolution struct {
	Address string
	Bucket  string
	Index   int
}

// ConfigurationError describes a rule set or pool that cannot be served. It is fatal at startup.
type ConfigurationError struct {
	Bucket string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Bucket == "" {
		return fmt.Sprintf("resolver: invalid configuration: %s", e.Reason)
	}

	return fmt.Sprintf("resolver: invalid configuration: bucket=%s: %s", e.Bucket, e.Reason)
}

// Engine resolves tags against an immutable, validated rule set and pool.
type Engine struct {
	rules RuleSet
	pool  Pool
}

// NewEngine validates the rule set against the pool and returns an engine serving them. A zero
// bucket size selects DefaultBucketSize. The engine keeps private copies of its inputs.
func NewEngine(rules RuleSet, pool Pool) (*Engine, error) {
	if rules.BucketSize == 0 {
		rules.BucketSize = DefaultBucketSize
	}

	if err := validate(rules, pool); err != nil {
		return nil, err
	}

	return &Engine{
		rules: RuleSet{
			Buckets:    append([]Bucket(nil), rules.Buckets...),
			BucketSize: rules.BucketSize,
		},
		pool: append(Pool(nil), pool...),
	}, nil
}

// Resolve selects the pool address for a tag's hour and sequence id. Hours outside every bucket
// fall back to the start of the pool.
func (e *Engine) Resolve(hour int, sequenceID int) Resolution {
	name, start := DefaultBucket, 0

	for _, bucket := range e.rules.Buckets {
		if bucket.Contains(hour) {
			name, start = bucket.Name, bucket.Start
			break
		}
	}

	offset := sequenceID % e.rules.BucketSize
	if offset < 0 {
		offset += e.rules.BucketSize
	}

	index := start + offset

	return Resolution{
		Address: e.pool[index],
		Bucket:  name,
		Index:   index,
	}
}

// BucketSize returns the configured pool window width.
func (e *Engine) BucketSize() int {
	return e.rules.BucketSize
}

// PoolSize returns the number of addresses in the pool.
func (e *Engine) PoolSize() int {
	return len(e.pool)
}

// Buckets returns a copy of the configured buckets, in declared order.
func (e *Engine) Buckets() []Bucket {
	return append([]Bucket(nil), e.rules.Buckets...)
}

func validate(rules RuleSet, pool Pool) error {
	if rules.BucketSize < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("negative bucket size: size=%d", rules.BucketSize)}
	}

	if len(pool) == 0 {
		return &ConfigurationError{Reason: "empty address pool"}
	}

	for idx, addr := range pool {
		if strings.TrimSpace(addr) == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("empty pool address: idx=%d", idx)}
		}
	}

	// The implicit default bucket must fit as well.
	if rules.BucketSize > len(pool) {
		return &ConfigurationError{
			Bucket: DefaultBucket,
			Reason: fmt.Sprintf("window exceeds pool: size=%d pool=%d", rules.BucketSize, len(pool)),
		}
	}

	seen := make(map[string]bool)
	for _, bucket := range rules.Buckets {
		if bucket.Name == "" {
			return &ConfigurationError{Reason: "bucket without a name"}
		}

		if seen[bucket.Name] {
			return &ConfigurationError{Bucket: bucket.Name, Reason: "duplicate bucket"}
		}
		seen[bucket.Name] = true

		if bucket.Low < 0 || bucket.High > 23 || bucket.Low > bucket.High {
			return &ConfigurationError{
				Bucket: bucket.Name,
				Reason: fmt.Sprintf("invalid hour range: range=[%d, %d]", bucket.Low, bucket.High),
			}
		}

		if bucket.Start < 0 || bucket.Start+rules.BucketSize > len(pool) {
			return &ConfigurationError{
				Bucket: bucket.Name,
				Reason: fmt.Sprintf(
					"window exceeds pool: start=%d size=%d pool=%d",
					bucket.Start,
					rules.BucketSize,
					len(pool),
				),
			}
		}
	}

	return nil
}

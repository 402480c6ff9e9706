package cache

import "fmt"

// Policy governs whether a resolution trusts cached data and whether it
// fetches.
type Policy int

const (
	// Default serves fresh entries, serves stale entries while revalidating
	// and fetches on a miss or an expired entry.
	Default Policy = iota
	// ForceCache serves fresh and stale entries without revalidating and
	// fetches on a miss or an expired entry.
	ForceCache
	// NoCache always fetches and writes the result back.
	NoCache
	// NoStore always fetches; the result is visible only to its caller.
	NoStore
	// OnlyIfCached never fetches and fails on a miss or an expired entry.
	OnlyIfCached
)

var policyNames = [...]string{
	Default:      "default",
	ForceCache:   "force-cache",
	NoCache:      "no-cache",
	NoStore:      "no-store",
	OnlyIfCached: "only-if-cached",
}

func (p Policy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by String.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return Default, nil
	}
	for i, name := range policyNames {
		if name == s {
			return Policy(i), nil
		}
	}
	return Default, fmt.Errorf("unknown cache policy %q", s)
}

// Fetches reports whether the policy fetches regardless of cache contents.
func (p Policy) Fetches() bool { return p == NoCache || p == NoStore }

// Stores reports whether fetched data is written into the shared cache.
func (p Policy) Stores() bool { return p != NoStore }

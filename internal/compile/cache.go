package compile

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/WilliamJin123/tract-sub000/internal/types"
)

// cacheKey identifies one CompiledContext by the four values spec.md §4.D
// names: tract, head, annotation state, and rendering behavior. Any change
// to one of these invalidates exactly the entries it affects — the cache
// is fingerprinted rather than flushed.
type cacheKey struct {
	tractID               string
	headHash              string
	annotationFingerprint string
	compilerFingerprint   string
}

// annotationFingerprint turns a tract's annotation generation counter into
// a cache-key component: any Annotate call bumps the counter, which changes
// the fingerprint and so silently invalidates every cached compile for
// that tract without enumerating its annotation rows.
func annotationFingerprint(generation int64) string {
	return fmt.Sprintf("gen-%d", generation)
}

// newCache builds the bounded LRU of compiled contexts. size <= 0 falls
// back to a sane default so a zero-value Options never disables caching by
// accident.
func newCache(size int) (*lru.Cache[cacheKey, types.CompiledContext], error) {
	if size <= 0 {
		size = 256
	}
	return lru.New[cacheKey, types.CompiledContext](size)
}

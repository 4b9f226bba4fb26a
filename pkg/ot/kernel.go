package ot

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/docmesh/docmesh/pkg/models"
)

const defaultCacheSize = 4096

type cachedPair struct {
	aPrime *models.Operation
	bPrime *models.Operation
}

// Kernel wraps the pure transform functions with an advisory LRU cache
// keyed by the operation ID pair. The cache is shared across sessions and
// carries no correctness dependency.
type Kernel struct {
	cache *lru.Cache[string, cachedPair]
}

// NewKernel creates a transform kernel with the default cache size
func NewKernel() *Kernel {
	cache, _ := lru.New[string, cachedPair](defaultCacheSize)
	return &Kernel{cache: cache}
}

// Transform rebases a pair of concurrent operations, consulting the cache
func (k *Kernel) Transform(a, b *models.Operation) (*models.Operation, *models.Operation) {
	key := a.Metadata.OperationID + "|" + b.Metadata.OperationID
	if key != "|" {
		if pair, ok := k.cache.Get(key); ok {
			return pair.aPrime.Clone(), pair.bPrime.Clone()
		}
	}

	aPrime, bPrime := Transform(a, b)
	if key != "|" {
		k.cache.Add(key, cachedPair{aPrime: aPrime.Clone(), bPrime: bPrime.Clone()})
	}
	return aPrime, bPrime
}

// TransformAgainst folds Transform over a list of concurrent operations,
// rebasing op across each in order. Fold steps bypass the cache: an
// intermediate result keeps its original operationID, so caching it under
// the pair key would poison later lookups.
func (k *Kernel) TransformAgainst(op *models.Operation, ops []*models.Operation) *models.Operation {
	transformed := op
	for _, other := range ops {
		transformed, _ = Transform(transformed, other)
	}
	return transformed
}

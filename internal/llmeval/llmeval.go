// Package llmeval defines the optional LLM risk-evaluation collaborator
// (spec §6 "Outbound to LLM collaborator"). The core never calls an LLM
// directly -- it depends on this interface, invoked only when rule-confidence
// falls below threshold or rules report medium risk, and cached by
// description-hash so identical text across listings is evaluated once.
package llmeval

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Request carries everything the collaborator needs to assess risk beyond
// what the rule-based checks already saw.
type Request struct {
	Title          string
	Description    string
	Price          float64
	PredictedPrice float64
	DiscountPct    float64
	RuleFlags      []string
}

// Response is the collaborator's risk opinion.
type Response struct {
	RiskLevel   string
	Summary     string
	Reasons     []string
	BuyerNotes  string
	Confidence  float64
}

// Evaluator is implemented by whatever transport actually talks to an LLM
// (out of scope for the core pipeline per spec §1 -- no concrete HTTP
// implementation ships here).
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (Response, error)
}

// DurableStore is the Storage Gateway's side of the description-hash cache
// (spec §12: "the Storage Gateway is the durable counterpart of this
// cache"). storage.LLMEvalCacheRepository's GetResponse/PutResponse carry
// the same fields; no adapter type joining the two ships in this repository,
// so this package does not depend on the storage package's types.
type DurableStore interface {
	Get(descriptionHash string) (resp Response, found bool, err error)
	Put(descriptionHash string, resp Response) error
}

// DescriptionHashCache wraps an Evaluator with an in-process cache keyed by
// description-hash, per spec §6's caching note ("cached by description-hash
// for reuse across listings with identical text"), backed by an optional
// DurableStore so the cache survives process restarts.
type DescriptionHashCache struct {
	inner Evaluator
	store DurableStore
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[string]Response
}

func NewDescriptionHashCache(inner Evaluator, store DurableStore, log zerolog.Logger) *DescriptionHashCache {
	return &DescriptionHashCache{
		inner: inner,
		store: store,
		log:   log.With().Str("component", "llmeval").Logger(),
		cache: make(map[string]Response),
	}
}

// Evaluate returns the cached Response for descriptionHash if present (first
// the in-process cache, then the durable store), otherwise invokes the
// wrapped Evaluator and writes the result back to both.
func (c *DescriptionHashCache) Evaluate(ctx context.Context, descriptionHash string, req Request) (Response, error) {
	c.mu.Lock()
	if resp, ok := c.cache[descriptionHash]; ok {
		c.mu.Unlock()
		return resp, nil
	}
	c.mu.Unlock()

	if c.store != nil {
		if resp, found, err := c.store.Get(descriptionHash); err == nil && found {
			c.mu.Lock()
			c.cache[descriptionHash] = resp
			c.mu.Unlock()
			return resp, nil
		}
	}

	resp, err := c.inner.Evaluate(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("llm evaluate: %w", err)
	}

	c.mu.Lock()
	c.cache[descriptionHash] = resp
	c.mu.Unlock()
	if c.store != nil {
		if err := c.store.Put(descriptionHash, resp); err != nil {
			c.log.Warn().Err(err).Str("description_hash", descriptionHash).Msg("failed to persist llm eval to durable store")
		}
	}
	return resp, nil
}

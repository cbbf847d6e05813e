package provider

import (
	"fmt"
)

// Chain walks an ordered list of provider configs, building adapters through
// a Factory. The session asks for the next candidate whenever the current
// provider fails fatally; a successful connect always replaces the previous
// adapter, never merges with it.
type Chain struct {
	factory Factory
	configs []Config
	next    int
}

// NewChain builds a fallback chain over the tenant's ordered provider list.
// The list must be non-empty and every entry's type must be known.
func NewChain(factory Factory, configs []Config) (*Chain, error) {
	if factory == nil {
		return nil, fmt.Errorf("fallback chain: factory is required")
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("fallback chain: no providers configured")
	}
	for i, cfg := range configs {
		if !Known(cfg.Type) {
			return nil, fmt.Errorf("fallback chain: provider %d has unknown type %q", i, cfg.Type)
		}
	}
	return &Chain{factory: factory, configs: configs}, nil
}

// Next builds the next candidate adapter, seeding it with the conversation
// history so far. Returns ErrExhausted once the list is spent.
func (c *Chain) Next(history []TranscriptEntry) (Adapter, Config, error) {
	if c.next >= len(c.configs) {
		return nil, Config{}, ErrExhausted
	}
	cfg := c.configs[c.next]
	c.next++
	cfg.History = history

	a, err := c.factory(cfg)
	if err != nil {
		return nil, Config{}, fmt.Errorf("build %s adapter: %w", cfg.Type, err)
	}
	return a, cfg, nil
}

// Remaining reports how many untried providers are left.
func (c *Chain) Remaining() int {
	return len(c.configs) - c.next
}

// Rewind makes the current provider eligible again, used when a session
// reconnects before provider expiry rather than falling back.
func (c *Chain) Rewind() {
	if c.next > 0 {
		c.next--
	}
}

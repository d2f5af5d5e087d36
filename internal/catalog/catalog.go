// Package catalog implements the static model catalog: channelled routing
// from a logical model kind to a concrete (provider, model) pair.
package catalog

import (
	"log/slog"
	"sort"
	"sync"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// Catalog is an immutable nested mapping keyed by channel then kind.
// It is loaded once at startup; Reload replaces the whole table.
type Catalog struct {
	mu     sync.RWMutex
	byChan map[string]map[string]gateway.ModelConfig
}

// Default is the built-in catalog used when the config file defines none.
func Default() *Catalog {
	return New(map[string]map[string]gateway.ModelConfig{
		gateway.DefaultChannel: {
			"chat.default":     {Provider: "anthropic", Model: "claude-sonnet-4-5"},
			"chat.fast":        {Provider: "openai", Model: "gpt-4o-mini"},
			"chat.grok":        {Provider: "xai", Model: "grok-3"},
			"image.default":    {Provider: "replicate", Model: "black-forest-labs/flux-schnell"},
			"image.pro":        {Provider: "replicate", Model: "black-forest-labs/flux-1.1-pro"},
			"music.default":    {Provider: "elevenlabs", Model: "music_v1"},
			"voice.default":    {Provider: "elevenlabs", Model: "eleven_multilingual_v2"},
			"realtime.default": {Provider: "openai", Model: "gpt-4o-realtime-preview"},
		},
	})
}

// New builds a Catalog from a channel -> kind -> config table.
func New(table map[string]map[string]gateway.ModelConfig) *Catalog {
	c := &Catalog{}
	c.replace(table)
	return c
}

func (c *Catalog) replace(table map[string]map[string]gateway.ModelConfig) {
	byChan := make(map[string]map[string]gateway.ModelConfig, len(table))
	for ch, kinds := range table {
		m := make(map[string]gateway.ModelConfig, len(kinds))
		for k, v := range kinds {
			m[k] = v
		}
		byChan[ch] = m
	}
	c.mu.Lock()
	c.byChan = byChan
	c.mu.Unlock()
}

// Resolve maps (kind, channel) to a ModelConfig. If the requested channel
// lacks the kind, it falls back to the stable channel before reporting
// absence. The fallback is observable in logs.
func (c *Catalog) Resolve(kind, channel string) (gateway.ModelConfig, error) {
	if channel == "" {
		channel = gateway.DefaultChannel
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kinds, ok := c.byChan[channel]; ok {
		if mc, ok := kinds[kind]; ok {
			return mc, nil
		}
	}
	if channel != gateway.DefaultChannel {
		if mc, ok := c.byChan[gateway.DefaultChannel][kind]; ok {
			slog.Debug("catalog fallback to stable", "kind", kind, "channel", channel)
			return mc, nil
		}
	}
	return gateway.ModelConfig{}, gateway.ErrKindNotFound
}

// Kinds returns the sorted kinds visible on a channel, including stable
// entries the channel inherits by fallback.
func (c *Catalog) Kinds(channel string) map[string]gateway.ModelConfig {
	if channel == "" {
		channel = gateway.DefaultChannel
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]gateway.ModelConfig)
	for k, v := range c.byChan[gateway.DefaultChannel] {
		out[k] = v
	}
	if channel != gateway.DefaultChannel {
		for k, v := range c.byChan[channel] {
			out[k] = v
		}
	}
	return out
}

// Channels returns the sorted list of defined channels.
func (c *Catalog) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chans := make([]string, 0, len(c.byChan))
	for ch := range c.byChan {
		chans = append(chans, ch)
	}
	sort.Strings(chans)
	return chans
}

// Reload replaces the catalog table. Exposed for hot-reload; not used in the
// steady state.
func (c *Catalog) Reload(table map[string]map[string]gateway.ModelConfig) {
	c.replace(table)
}

// Package pricing holds the per-provider cost tables used for spend accounting.
// Prices are USD; the pipeline converts to integer cents for storage.
package pricing

import "sync"

// TokenPrice is per-1M-token pricing for a chat model.
type TokenPrice struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Table maps provider/model pairs to cost functions. Read-mostly; mutated
// only on explicit reload.
type Table struct {
	mu        sync.RWMutex
	tokens    map[string]TokenPrice // "provider/model"
	perImage  map[string]float64    // USD per generated image
	perSecond map[string]float64    // USD per audio second (music)
	perChar   map[string]float64    // USD per character (TTS)
}

// Default returns the built-in pricing table.
func Default() *Table {
	return &Table{
		tokens: map[string]TokenPrice{
			"openai/gpt-4o":                  {InputPer1M: 2.50, OutputPer1M: 10.00},
			"openai/gpt-4o-mini":             {InputPer1M: 0.15, OutputPer1M: 0.60},
			"openai/gpt-4o-realtime-preview": {InputPer1M: 5.00, OutputPer1M: 20.00},
			"anthropic/claude-sonnet-4-5":    {InputPer1M: 3.00, OutputPer1M: 15.00},
			"anthropic/claude-haiku-4-5":     {InputPer1M: 1.00, OutputPer1M: 5.00},
			"anthropic/claude-opus-4-5":      {InputPer1M: 5.00, OutputPer1M: 25.00},
			"xai/grok-3":                     {InputPer1M: 3.00, OutputPer1M: 15.00},
			"xai/grok-3-mini":                {InputPer1M: 0.30, OutputPer1M: 0.50},
		},
		perImage: map[string]float64{
			"replicate/black-forest-labs/flux-schnell": 0.003,
			"replicate/black-forest-labs/flux-1.1-pro": 0.040,
			"replicate/default":                        0.010,
		},
		perSecond: map[string]float64{
			"elevenlabs/music_v1": 0.005,
		},
		perChar: map[string]float64{
			"elevenlabs/eleven_multilingual_v2": 0.00003,
			"elevenlabs/default":                0.00003,
		},
	}
}

// Tokens returns the USD cost for a chat completion. Unknown models cost
// zero rather than guessing; the usage log still records the token counts.
func (t *Table) Tokens(provider, model string, promptTokens, completionTokens int) float64 {
	t.mu.RLock()
	p, ok := t.tokens[provider+"/"+model]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*p.InputPer1M + float64(completionTokens)/1e6*p.OutputPer1M
}

// Images returns the USD cost for n generated images.
func (t *Table) Images(provider, model string, n int) float64 {
	if n <= 0 {
		n = 1
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.perImage[provider+"/"+model]; ok {
		return float64(n) * p
	}
	if p, ok := t.perImage[provider+"/default"]; ok {
		return float64(n) * p
	}
	return 0
}

// AudioSeconds returns the USD cost for seconds of generated audio.
func (t *Table) AudioSeconds(provider, model string, seconds int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.perSecond[provider+"/"+model]; ok {
		return float64(seconds) * p
	}
	return 0
}

// Characters returns the USD cost for synthesizing chars of text.
func (t *Table) Characters(provider, model string, chars int) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.perChar[provider+"/"+model]; ok {
		return float64(chars) * p
	}
	if p, ok := t.perChar[provider+"/default"]; ok {
		return float64(chars) * p
	}
	return 0
}

// Cents converts a USD amount to integer cents, rounding half away from zero.
func Cents(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(usd*100 + 0.5)
}

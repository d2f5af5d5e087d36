// Package anthropic implements the gateway.Adapter for the Anthropic
// Messages API, translating to and from the normalized chat shape.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// anthropicRequest is the Anthropic Messages API request body.
type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type anthropicMsg struct {
	Role    string            `json:"role"`
	Content []json.RawMessage `json:"content"`
}

// translateRequest converts the normalized chat request to an Anthropic
// Messages request. System messages are concatenated into the top-level
// system field; the rest are reshaped into content-part arrays.
func translateRequest(req *gateway.Request) (*anthropicRequest, error) {
	out := &anthropicRequest{
		Model:       req.Model,
		MaxTokens:   4096, // Anthropic requires max_tokens
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, contentText(m.Content))
		case "user", "assistant":
			parts, err := translateContent(m.Content)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, anthropicMsg{Role: m.Role, Content: parts})
		}
	}
	out.System = strings.Join(system, "\n")
	return out, nil
}

// contentText extracts plain text from a raw content value that may be a
// JSON string or an array of parts.
func contentText(raw json.RawMessage) string {
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return v.String()
	}
	var b strings.Builder
	v.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			b.WriteString(part.Get("text").String())
		}
		return true
	})
	return b.String()
}

// translateContent converts normalized content (string or multimodal parts)
// into Anthropic content blocks. Data URLs become base64 image sources;
// remote URLs become url sources.
func translateContent(raw json.RawMessage) ([]json.RawMessage, error) {
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		block, _ := json.Marshal(map[string]string{"type": "text", "text": v.String()})
		return []json.RawMessage{block}, nil
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("anthropic: unsupported content shape")
	}

	var out []json.RawMessage
	var err error
	v.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			block, _ := json.Marshal(map[string]string{"type": "text", "text": part.Get("text").String()})
			out = append(out, block)
		case "image_url", "image":
			url := part.Get("image_url.url").String()
			if url == "" {
				url = part.Get("url").String()
			}
			block, blockErr := imageBlock(url)
			if blockErr != nil {
				err = blockErr
				return false
			}
			out = append(out, block)
		}
		return true
	})
	return out, err
}

// imageBlock rewrites an image URL to an Anthropic image source block.
func imageBlock(url string) (json.RawMessage, error) {
	if strings.HasPrefix(url, "data:") {
		// data:<media-type>;base64,<data>
		meta, data, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
		mediaType, enc, _ := strings.Cut(meta, ";")
		if !ok || enc != "base64" {
			return nil, fmt.Errorf("anthropic: unsupported data url encoding")
		}
		return json.Marshal(map[string]any{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": mediaType,
				"data":       data,
			},
		})
	}
	return json.Marshal(map[string]any{
		"type":   "image",
		"source": map[string]string{"type": "url", "url": url},
	})
}

// translateResponse converts an Anthropic Messages API response to the
// normalized completion. Content blocks are flattened to a single string
// by extracting every .text field; token counts map
// input_tokens -> prompt_tokens and output_tokens -> completion_tokens.
func translateResponse(data []byte) (*gateway.Completion, error) {
	result := gjson.ParseBytes(data)

	var text strings.Builder
	collectText(result.Get("content"), &text)

	content, _ := json.Marshal(text.String())
	usage := &gateway.Usage{
		PromptTokens:     int(result.Get("usage.input_tokens").Int()),
		CompletionTokens: int(result.Get("usage.output_tokens").Int()),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &gateway.Completion{
		ID:     result.Get("id").String(),
		Object: "chat.completion",
		Model:  result.Get("model").String(),
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.Message{Role: "assistant", Content: content},
			FinishReason: mapStopReason(result.Get("stop_reason").String()),
		}},
		Usage: usage,
	}, nil
}

// collectText recursively appends every .text field under v.
func collectText(v gjson.Result, b *strings.Builder) {
	if v.IsArray() || v.IsObject() {
		if t := v.Get("text"); t.Exists() && t.Type == gjson.String {
			b.WriteString(t.String())
		}
		v.ForEach(func(key, child gjson.Result) bool {
			if key.String() != "text" {
				collectText(child, b)
			}
			return true
		})
	}
}

// mapStopReason converts Anthropic stop reasons to normalized finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

package tokencount

import (
	"encoding/json"
	"testing"

	gateway "github.com/mattdarbro/studio-api/internal"
)

func TestCountText(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello world!", 3},
	}
	for _, tc := range cases {
		if got := c.CountText(tc.text); got != tc.want {
			t.Errorf("CountText(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestEstimateRequest(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	msgs := []gateway.Message{
		{Role: "user", Content: json.RawMessage(`"Hello"`)},
	}
	// 4 framing + 1 (user) + 2 ("Hello" quoted is 7 chars) + 3 priming.
	if got := c.EstimateRequest(msgs); got != 10 {
		t.Errorf("EstimateRequest = %d, want 10", got)
	}
}

func TestEstimateRequest_Empty(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	if got := c.EstimateRequest(nil); got != 0 {
		t.Errorf("EstimateRequest(nil) = %d, want 0", got)
	}
}

func TestEstimateRequest_NamedMessage(t *testing.T) {
	t.Parallel()
	c := NewCounter()

	plain := c.EstimateRequest([]gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}})
	named := c.EstimateRequest([]gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`), Name: "bot"}})
	if named <= plain {
		t.Errorf("named (%d) should exceed plain (%d)", named, plain)
	}
}

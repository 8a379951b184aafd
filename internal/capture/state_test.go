// SPDX-License-Identifier: MIT
package capture

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStateText(t *testing.T) {
	for s := StateUninitialized; s <= StateFaulted; s++ {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) error = %v", s, err)
		}
		var back State
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, back, err, s)
		}
	}

	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state")
	}
	if got := State(42).String(); got != "state(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestStatsJSON(t *testing.T) {
	b, err := json.Marshal(Stats{ID: "x", State: StateStreaming})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	var got struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(b, &got); err != nil || got.State != "streaming" {
		t.Errorf("state encoded as %s", b)
	}
}

func TestStateChangeString(t *testing.T) {
	c := StateChange{From: StateStreaming, To: StateFaulted, Err: errors.New("unplugged")}
	if got := c.String(); got != "streaming -> faulted (unplugged)" {
		t.Errorf("String() = %q", got)
	}
	c = StateChange{From: StateReady, To: StateStreaming}
	if got := c.String(); got != "ready -> streaming" {
		t.Errorf("String() = %q", got)
	}
}

package storage

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWrapValue(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("round trip", func(t *testing.T) {
		type payload struct {
			Name  string `json:"name"`
			Score int    `json:"score"`
		}

		data, err := WrapValue(payload{Name: "tetris", Score: 42}, false, now)
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}

		raw, env, err := UnwrapValue(data)
		if err != nil {
			t.Fatalf("unwrap: %v", err)
		}
		if env.Compressed {
			t.Error("envelope marked compressed")
		}
		if env.Timestamp != now.UnixMilli() {
			t.Errorf("timestamp = %d, want %d", env.Timestamp, now.UnixMilli())
		}

		var got payload
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decoding value: %v", err)
		}
		if got.Name != "tetris" || got.Score != 42 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("compressed round trip", func(t *testing.T) {
		value := make([]string, 100)
		for i := range value {
			value[i] = "repetitive level data"
		}

		data, err := WrapValue(value, true, now)
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}

		plain, _ := json.Marshal(value)
		if len(data) >= len(plain) {
			t.Errorf("compressed envelope (%d bytes) not smaller than plain value (%d bytes)", len(data), len(plain))
		}

		raw, env, err := UnwrapValue(data)
		if err != nil {
			t.Fatalf("unwrap: %v", err)
		}
		if !env.Compressed {
			t.Error("envelope not marked compressed")
		}

		var got []string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decoding value: %v", err)
		}
		if len(got) != 100 || got[0] != "repetitive level data" {
			t.Errorf("round trip lost data: len=%d", len(got))
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, _, err := UnwrapValue([]byte("not json")); err == nil {
			t.Error("expected error for non-JSON data")
		}
	})
}

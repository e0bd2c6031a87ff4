package scheduler

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChoiceDurationAcceptsString(t *testing.T) {
	var c Choice
	payload := `{"app":"com.example.feed","kind":"declare_intention","duration":"15m"}`
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Kind != ChoiceDeclareIntention {
		t.Errorf("expected kind normalized to %s, got %s", ChoiceDeclareIntention, c.Kind)
	}
	if c.Duration != 15*time.Minute {
		t.Errorf("expected 15m, got %v", c.Duration)
	}
}

func TestChoiceDurationAcceptsNanos(t *testing.T) {
	var c Choice
	payload := `{"app":"com.example.feed","kind":"DISMISS","duration":60000000000}`
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Duration != time.Minute {
		t.Errorf("expected 1m, got %v", c.Duration)
	}
}

func TestChoiceRejectsBadInput(t *testing.T) {
	cases := []string{
		`{"app":"a","kind":"SNOOZE"}`,
		`{"app":"a","kind":"DISMISS","duration":"soon"}`,
	}
	for _, payload := range cases {
		var c Choice
		if err := json.Unmarshal([]byte(payload), &c); err == nil {
			t.Errorf("expected error for %s", payload)
		}
	}
}

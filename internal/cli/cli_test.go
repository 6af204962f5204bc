package cli

import (
	"testing"
	"time"
)

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "")
	if err != nil || got != nil {
		t.Fatalf("empty flag -> %v %v", got, err)
	}

	got, err = parseTimeFlag("from", "2026-03-01")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date -> %v %v", got, err)
	}

	got, err = parseTimeFlag("to", "2026-03-01T10:30:00+02:00")
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339 -> %v %v", got, err)
	}

	if _, err := parseTimeFlag("to", "yesterday"); err == nil {
		t.Fatal("garbage should fail")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "check", "cleanup", "export", "show", "alerts", "version", "simulate-alert"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

package decision

import (
	"strings"
	"testing"
)

func TestRedactKeepsOnlyAllowListedKeys(t *testing.T) {
	r := NewRedactor([]string{"channel", "auth_code"}, 4096)

	out := r.Redact(map[string]any{
		"channel":      "ecommerce",
		"auth_code":    "A1B2C3",
		"cardholder":   "J. Doe",
		"device_score": 0.4,
	})
	if len(out) != 2 {
		t.Fatalf("Redact() kept %d keys, want 2", len(out))
	}
	if out["channel"] != "ecommerce" || out["auth_code"] != "A1B2C3" {
		t.Fatalf("Redact() = %v", out)
	}
	if _, ok := out["cardholder"]; ok {
		t.Fatalf("Redact() leaked cardholder")
	}
}

func TestRedactEmptyResults(t *testing.T) {
	r := NewRedactor([]string{"channel"}, 4096)

	if out := r.Redact(nil); out != nil {
		t.Fatalf("Redact(nil) = %v, want nil", out)
	}
	if out := r.Redact(map[string]any{"other": 1}); out != nil {
		t.Fatalf("Redact() = %v, want nil when nothing is allow-listed", out)
	}
}

func TestRedactDropsOversizedPayloadWhole(t *testing.T) {
	r := NewRedactor([]string{"channel", "note"}, 64)

	out := r.Redact(map[string]any{
		"channel": "pos",
		"note":    strings.Repeat("x", 200),
	})
	if out != nil {
		t.Fatalf("Redact() = %v, want whole-payload drop over byte cap", out)
	}

	small := r.Redact(map[string]any{"channel": "pos"})
	if small == nil || small["channel"] != "pos" {
		t.Fatalf("Redact() = %v, want channel kept under cap", small)
	}
}

package decision

import (
	"testing"
)

func guardEvent(last4 *string) *Event {
	return &Event{
		BusinessID: "txn-1",
		Stage:      StageAuth,
		CardID:     "tok_abc123",
		CardLast4:  last4,
	}
}

func strp(s string) *string { return &s }

func TestGuardDetectsPAN(t *testing.T) {
	tests := []struct {
		name     string
		scanned  map[string]any
		wantPath string
	}{
		{
			name:     "plain visa pan",
			scanned:  map[string]any{"card_number": "4111111111111111"},
			wantPath: "card_number",
		},
		{
			name:     "space separated pan",
			scanned:  map[string]any{"note": "pan 4111 1111 1111 1111 seen"},
			wantPath: "note",
		},
		{
			name:     "dash separated pan",
			scanned:  map[string]any{"note": "5500-0000-0000-0004"},
			wantPath: "note",
		},
		{
			name: "pan nested in payload",
			scanned: map[string]any{
				"raw_payload": map[string]any{"memo": "378282246310005"},
			},
			wantPath: "raw_payload.memo",
		},
		{
			name: "pan inside array",
			scanned: map[string]any{
				"items": []any{map[string]any{"v": "6011111111111117"}},
			},
			wantPath: "items[0].v",
		},
		{
			name:     "2-series mastercard fails luhn but matches prefix",
			scanned:  map[string]any{"card": "2221000000000000"},
			wantPath: "card",
		},
	}

	guard := NewGuard(ModeTokenOnly)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := guard.Check(guardEvent(nil), tt.scanned)
			rej, ok := AsRejection(err)
			if !ok {
				t.Fatalf("Check() error = %v, want rejection", err)
			}
			if rej.Code != RejectPANDetected {
				t.Fatalf("Code = %q, want %q", rej.Code, RejectPANDetected)
			}
			if rej.Field != tt.wantPath {
				t.Fatalf("Field = %q, want %q", rej.Field, tt.wantPath)
			}
		})
	}
}

func TestGuardIgnoresNonPANValues(t *testing.T) {
	tests := []struct {
		name    string
		scanned map[string]any
	}{
		{
			name:    "tokenized identifier is exempt",
			scanned: map[string]any{"card_id": "tok_4111111111111111"},
		},
		{
			name:    "short digit run",
			scanned: map[string]any{"order": "123456789012"},
		},
		{
			name:    "twenty digits",
			scanned: map[string]any{"ref": "12345678901234567890"},
		},
		{
			name:    "uuid style value",
			scanned: map[string]any{"id": "a3f1c2d4-5678-4abc-9def-0123456789ab"},
		},
		{
			name:    "non luhn non prefix sixteen digits",
			scanned: map[string]any{"seq": "1111111111111112"},
		},
	}

	guard := NewGuard(ModeTokenOnly)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := guard.Check(guardEvent(nil), tt.scanned); err != nil {
				t.Fatalf("Check() error = %v", err)
			}
		})
	}
}

func TestGuardTokenOnlyStripsLast4(t *testing.T) {
	guard := NewGuard(ModeTokenOnly)

	out, err := guard.Check(guardEvent(strp("4242")), map[string]any{"ok": "value"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if out.CardLast4 != nil {
		t.Fatalf("CardLast4 = %q, want stripped", *out.CardLast4)
	}
}

func TestGuardTokenPlusLast4(t *testing.T) {
	guard := NewGuard(ModeTokenPlusLast4)

	out, err := guard.Check(guardEvent(strp("4242")), nil)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if out.CardLast4 == nil || *out.CardLast4 != "4242" {
		t.Fatalf("CardLast4 = %v, want 4242", out.CardLast4)
	}

	for _, bad := range []*string{nil, strp(""), strp("42"), strp("42424"), strp("42a2")} {
		_, err := guard.Check(guardEvent(bad), nil)
		rej, ok := AsRejection(err)
		if !ok {
			t.Fatalf("Check(%v) error = %v, want rejection", bad, err)
		}
		if rej.Code != RejectBadLast4 {
			t.Fatalf("Code = %q, want %q", rej.Code, RejectBadLast4)
		}
	}
}

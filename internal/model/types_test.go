package model

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		n       int
		want    Mode
		wantErr bool
	}{
		{1, ModeLTP, false},
		{2, ModeQuote, false},
		{3, ModeDepth, false},
		{0, 0, true},
		{4, 0, true},
		{-1, 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.n)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMode(%d) expected error, got %v", tt.n, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMode(%d) unexpected error: %v", tt.n, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestModeString(t *testing.T) {
	if ModeLTP.String() != "ltp" {
		t.Errorf("ModeLTP.String() = %q, want %q", ModeLTP.String(), "ltp")
	}
	if ModeQuote.String() != "quote" {
		t.Errorf("ModeQuote.String() = %q, want %q", ModeQuote.String(), "quote")
	}
	if ModeDepth.String() != "depth" {
		t.Errorf("ModeDepth.String() = %q, want %q", ModeDepth.String(), "depth")
	}
}

func TestSubscriptionKeyString(t *testing.T) {
	k := NewKey("RELIANCE", "NSE", ModeLTP)
	if got := k.String(); got != "NSE:RELIANCE:ltp" {
		t.Errorf("String() = %q, want %q", got, "NSE:RELIANCE:ltp")
	}
}

func TestSubscriptionKeyEquality(t *testing.T) {
	a := NewKey("RELIANCE", "NSE", ModeQuote)
	b := NewKey("RELIANCE", "NSE", ModeQuote)
	c := NewKey("reliance", "NSE", ModeQuote)

	if a != b {
		t.Error("identical keys should compare equal")
	}
	// Case-sensitive, exactly as received.
	if a == c {
		t.Error("keys differing in case should not compare equal")
	}
	if a == NewKey("RELIANCE", "NSE", ModeDepth) {
		t.Error("keys differing in mode should not compare equal")
	}
}

func TestSubscriptionKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     SubscriptionKey
		wantErr bool
	}{
		{"valid", NewKey("SBIN", "NSE", ModeQuote), false},
		{"missing symbol", NewKey("", "NSE", ModeQuote), true},
		{"blank symbol", NewKey("   ", "NSE", ModeQuote), true},
		{"missing exchange", NewKey("SBIN", "", ModeQuote), true},
		{"bad mode", SubscriptionKey{Symbol: "SBIN", Exchange: "NSE", Mode: 9}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

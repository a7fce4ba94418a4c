package callback

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		id     string
	}{
		{action: "cl_lead_send"},
		{action: "lead_send", id: "123"},
		{action: "cat_sell_send", id: "6f1c2e0a-5b7d-4f0e-9a51"},
		{action: "b2b_req_back", id: "REQ-LZ3K9Q2A"},
	}
	for _, tt := range tests {
		data := Build(tt.action, tt.id)
		if len(data) > MaxBytes {
			t.Fatalf("Build(%q, %q) is %d bytes", tt.action, tt.id, len(data))
		}
		parsed, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse(%q): %v", data, err)
		}
		if parsed.Action != tt.action || parsed.ID != tt.id {
			t.Fatalf("round trip mismatch: got %q/%q want %q/%q", parsed.Action, parsed.ID, tt.action, tt.id)
		}
	}
}

func TestBuild_Sanitizes(t *testing.T) {
	t.Parallel()

	data := Build("lead send!", "1:2")
	if data != "v1:act:leadsend:12" {
		t.Fatalf("unexpected data: %q", data)
	}
}

func TestBuild_AlwaysFits(t *testing.T) {
	t.Parallel()

	action := strings.Repeat("a", 40)
	id := strings.Repeat("9", 60)
	data := Build(action, id)
	if len(data) > MaxBytes {
		t.Fatalf("data is %d bytes: %q", len(data), data)
	}
	if !strings.HasPrefix(data, v1Prefix) {
		t.Fatalf("expected v1 form, got %q", data)
	}
}

func TestParse_Base64JSON(t *testing.T) {
	t.Parallel()

	raw := base64.StdEncoding.EncodeToString([]byte(`{"v":1,"act":"ping","id":"42"}`))
	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Action != "ping" || parsed.ID != "42" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
}

func TestParse_Classification(t *testing.T) {
	t.Parallel()

	if _, err := Parse("  "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	for _, raw := range []string{"LEGACY_DATA", "LEAD_CONFIRM_SEND", "lead_WON_abc"} {
		parsed, err := Parse(raw)
		if !errors.Is(err, ErrLegacy) {
			t.Fatalf("Parse(%q): expected ErrLegacy, got %v", raw, err)
		}
		if parsed.Raw != raw {
			t.Fatalf("raw not preserved: %q", parsed.Raw)
		}
	}
	if _, err := Parse("v1:act:"); err == nil || errors.Is(err, ErrLegacy) {
		t.Fatalf("expected missing action error, got %v", err)
	}
}

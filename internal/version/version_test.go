package version

import (
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if !strings.HasPrefix(info, Version+" ") {
		t.Fatalf("unexpected info: %q", info)
	}
	if !strings.Contains(info, Commit) {
		t.Fatalf("commit missing: %q", info)
	}
}

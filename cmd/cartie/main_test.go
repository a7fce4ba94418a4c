package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cartie/cartie/internal/version"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version.GetInfo()) {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "sideways"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

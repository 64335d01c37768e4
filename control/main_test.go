package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPrintUsage(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	printUsage()

	_ = w.Close()
	os.Stderr = oldStderr

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	output := buf.String()

	expected := []string{
		"spotizerr",
		"USAGE",
		"COMMANDS",
		"serve",
		"submit",
		"status",
		"monitor",
		"version",
		"EXAMPLES",
	}

	for _, exp := range expected {
		if !strings.Contains(output, exp) {
			t.Errorf("printUsage() output should contain %q, got: %s", exp, output)
		}
	}
}

func TestFormatDisplay(t *testing.T) {
	tests := []struct {
		name, artist, want string
	}{
		{"", "", "(untitled)"},
		{"Debaser", "", "Debaser"},
		{"Debaser", "Pixies", "Debaser - Pixies"},
	}
	for _, tt := range tests {
		if got := formatDisplay(tt.name, tt.artist); got != tt.want {
			t.Errorf("formatDisplay(%q, %q) = %q, want %q", tt.name, tt.artist, got, tt.want)
		}
	}
}

package main

import "testing"

func TestWantTUI_FlagDisables(t *testing.T) {
	if WantTUI(true) {
		t.Error("WantTUI(true) = true, want false")
	}
}

func TestWantTUI_EnvDisables(t *testing.T) {
	t.Setenv("SPOTIZERR_NO_TUI", "1")
	if WantTUI(false) {
		t.Error("WantTUI with SPOTIZERR_NO_TUI set = true, want false")
	}
}

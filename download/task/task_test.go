package task

import "testing"

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Kind
		wantErr bool
	}{
		{"track", "track", KindTrack, false},
		{"album", "album", KindAlbum, false},
		{"playlist", "playlist", KindPlaylist, false},
		{"artist", "artist", KindArtist, false},
		{"empty", "", "", true},
		{"unknown", "episode", "", true},
		{"case sensitive", "Track", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusComplete, StatusError, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []Status{
		StatusQueued, StatusProcessing, StatusInitializing, StatusDownloading,
		StatusProgress, StatusRealTime, StatusTrackProgress, StatusTrackComplete,
		StatusSkipped, StatusRetrying, StatusDone,
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestKindIsParent(t *testing.T) {
	if !KindAlbum.IsParent() || !KindPlaylist.IsParent() {
		t.Error("album and playlist are parent kinds")
	}
	if KindTrack.IsParent() || KindArtist.IsParent() {
		t.Error("track and artist are not parent kinds")
	}
}

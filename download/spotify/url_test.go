package spotify

import "testing"

func TestGetID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    string
		want    string
		wantErr bool
	}{
		{
			name: "plain URL",
			raw:  "https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r",
			kind: "track",
			want: "1Cts4YV9aOXVAP3bm3Ro6r",
		},
		{
			name: "URL with share query",
			raw:  "https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r?si=abc123",
			kind: "track",
			want: "1Cts4YV9aOXVAP3bm3Ro6r",
		},
		{
			name: "intl path segment",
			raw:  "https://open.spotify.com/intl-fr/album/4K0JVP5veNYTVI6IMamlla",
			kind: "album",
			want: "4K0JVP5veNYTVI6IMamlla",
		},
		{
			name: "spotify URI",
			raw:  "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M",
			kind: "playlist",
			want: "37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name: "bare id",
			raw:  "1Cts4YV9aOXVAP3bm3Ro6r",
			kind: "track",
			want: "1Cts4YV9aOXVAP3bm3Ro6r",
		},
		{
			name:    "kind mismatch",
			raw:     "https://open.spotify.com/album/4K0JVP5veNYTVI6IMamlla",
			kind:    "track",
			wantErr: true,
		},
		{
			name:    "short id",
			raw:     "abc",
			kind:    "track",
			wantErr: true,
		},
		{
			name:    "foreign host",
			raw:     "https://example.com/track/1Cts4YV9aOXVAP3bm3Ro6r",
			kind:    "track",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			kind:    "track",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetID(tt.raw, tt.kind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetID(%q, %q) error = %v, wantErr %v", tt.raw, tt.kind, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetID(%q, %q) = %q, want %q", tt.raw, tt.kind, got, tt.want)
			}
		})
	}
}

func TestParseURL(t *testing.T) {
	kind, id, err := ParseURL("https://open.spotify.com/artist/0TnOYISbd1XYRBk9myaseg?si=xyz")
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	if kind != "artist" || id != "0TnOYISbd1XYRBk9myaseg" {
		t.Errorf("ParseURL() = (%q, %q), want (artist, 0TnOYISbd1XYRBk9myaseg)", kind, id)
	}

	// A bare id carries no kind.
	kind, id, err = ParseURL("0TnOYISbd1XYRBk9myaseg")
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	if kind != "" || id != "0TnOYISbd1XYRBk9myaseg" {
		t.Errorf("ParseURL() = (%q, %q), want (\"\", 0TnOYISbd1XYRBk9myaseg)", kind, id)
	}
}

func TestCanonicalURL(t *testing.T) {
	got := CanonicalURL("track", "1Cts4YV9aOXVAP3bm3Ro6r")
	want := "https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r"
	if got != want {
		t.Errorf("CanonicalURL() = %q, want %q", got, want)
	}
}

func TestIsSpotifyURL(t *testing.T) {
	if !IsSpotifyURL("https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r") {
		t.Error("Expected open.spotify.com URL to be recognized")
	}
	if !IsSpotifyURL("spotify:track:1Cts4YV9aOXVAP3bm3Ro6r") {
		t.Error("Expected spotify URI to be recognized")
	}
	if IsSpotifyURL("https://www.deezer.com/track/3135556") {
		t.Error("Expected deezer URL to be rejected")
	}
}

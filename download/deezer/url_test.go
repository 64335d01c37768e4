package deezer

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind string
		wantID   string
		wantErr  bool
	}{
		{
			name:     "plain track",
			raw:      "https://www.deezer.com/track/3135556",
			wantKind: "track",
			wantID:   "3135556",
		},
		{
			name:     "language segment",
			raw:      "https://www.deezer.com/en/album/302127",
			wantKind: "album",
			wantID:   "302127",
		},
		{
			name:     "bare host",
			raw:      "https://deezer.com/playlist/908622995",
			wantKind: "playlist",
			wantID:   "908622995",
		},
		{
			name:    "non-numeric id",
			raw:     "https://www.deezer.com/track/abc",
			wantErr: true,
		},
		{
			name:    "foreign host",
			raw:     "https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, err := ParseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if kind != tt.wantKind || id != tt.wantID {
				t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)", tt.raw, kind, id, tt.wantKind, tt.wantID)
			}
		})
	}
}

func TestCanonicalURL(t *testing.T) {
	got := CanonicalURL("album", "302127")
	if got != "https://www.deezer.com/album/302127" {
		t.Errorf("CanonicalURL() = %q", got)
	}
}

func TestIsDeezerURL(t *testing.T) {
	if !IsDeezerURL("https://www.deezer.com/track/3135556") {
		t.Error("Expected deezer.com URL to be recognized")
	}
	if IsDeezerURL("https://open.spotify.com/track/1Cts4YV9aOXVAP3bm3Ro6r") {
		t.Error("Expected spotify URL to be rejected")
	}
}

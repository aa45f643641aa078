package transcode

import (
	"context"
	"errors"
	"testing"
)

func TestConvert_UnsupportedExtensionFailsBeforeSpawning(t *testing.T) {
	e := NewEngine(1)
	_, err := e.Convert(context.Background(), "in.mp4", ".xyz")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if len(e.sem) != 0 {
		t.Error("rejected conversion must not hold an encoder slot")
	}
}

func TestSupportedTarget_CoversExactlySixExtensions(t *testing.T) {
	supported := []string{"mp4", "webm", "mov", "mkv", "avi", "gif"}
	for _, ext := range supported {
		if !SupportedTarget(ext) {
			t.Errorf("expected %q to be supported", ext)
		}
		if !SupportedTarget("." + ext) {
			t.Errorf("expected %q with leading dot to be supported", ext)
		}
	}
	if len(convertRecipes) != len(supported) {
		t.Errorf("expected %d recipes, got %d", len(supported), len(convertRecipes))
	}

	for _, ext := range []string{"", "exe", "mp3", "m4v", "../mp4"} {
		if SupportedTarget(ext) {
			t.Errorf("expected %q to be unsupported", ext)
		}
	}
}

func TestContentTypeForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"mp4", "video/mp4"},
		{".webm", "video/webm"},
		{"mov", "video/quicktime"},
		{"mkv", "video/x-matroska"},
		{"avi", "video/x-msvideo"},
		{"gif", "image/gif"},
		{"xyz", ""},
	}
	for _, tt := range tests {
		if got := ContentTypeForExtension(tt.ext); got != tt.want {
			t.Errorf("ContentTypeForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestRecipes_StreamableContainers(t *testing.T) {
	for _, ext := range []string{".mp4", ".mov"} {
		rec := convertRecipes[ext]
		found := false
		for i, arg := range rec.args {
			if arg == "-movflags" && i+1 < len(rec.args) {
				found = rec.args[i+1] == "frag_keyframe+empty_moov"
			}
		}
		if !found {
			t.Errorf("%s recipe must produce fragmented output for live streaming", ext)
		}
	}
}

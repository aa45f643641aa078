// Package media extracts duration and size from a media file by invoking
// ffprobe in a child process.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrInspectionFailed covers a non-zero ffprobe exit, short output, and
// unparsable values.
var ErrInspectionFailed = errors.New("media: inspection failed")

const probeTimeout = 15 * time.Second

type Info struct {
	DurationSeconds float64
	SizeBytes       int64
}

type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

func (i *Inspector) Inspect(ctx context.Context, path string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration,size",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("%w: ffprobe: %v", ErrInspectionFailed, err)
	}

	return parseProbeOutput(string(output))
}

func parseProbeOutput(output string) (Info, error) {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(output, "\r\n", "\n")), "\n")
	if len(lines) < 2 {
		return Info{}, fmt.Errorf("%w: expected duration and size, got %d lines", ErrInspectionFailed, len(lines))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	if err != nil {
		return Info{}, fmt.Errorf("%w: parse duration %q: %v", ErrInspectionFailed, lines[0], err)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) {
		return Info{}, fmt.Errorf("%w: non-finite duration %q", ErrInspectionFailed, lines[0])
	}

	size, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("%w: parse size %q: %v", ErrInspectionFailed, lines[1], err)
	}

	return Info{DurationSeconds: duration, SizeBytes: size}, nil
}

package transcode

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	editTimeout  = 80 * time.Second
	probeTimeout = 10 * time.Second

	// audioBitrateKbps is reserved out of the compression budget before the
	// video bitrate is computed.
	audioBitrateKbps = 96
)

type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options describes a re-encoding edit. Trim, crop and compression combine
// independently; nil fields are skipped.
type Options struct {
	// StartTime/EndTime bound the segment that is cut out of the video.
	StartTime *float64
	EndTime   *float64
	Crop      *CropRect
	// CompressToMB is the target output size in megabytes.
	CompressToMB *float64
}

// Edit re-encodes inputPath into outputPath applying the requested trim,
// crop and target-size compression. Validation happens before any process
// is spawned; the original file is never touched.
func (e *Engine) Edit(ctx context.Context, opts Options, sourceDurationSeconds float64, inputPath, outputPath string) error {
	if err := validateEdit(opts, sourceDurationSeconds, inputPath); err != nil {
		return err
	}

	args, err := buildEditArgs(opts, sourceDurationSeconds, inputPath, outputPath, hasAudioStream(ctx, inputPath))
	if err != nil {
		return err
	}

	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, editTimeout)
	defer cancel()

	operationsTotal.WithLabelValues("edit").Inc()

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		failuresTotal.WithLabelValues("edit").Inc()
		return &ExecError{Op: "edit", Output: string(output), Err: err}
	}
	return nil
}

// validateEdit runs the full option validation without touching the input
// file, so bad requests are rejected before any probe or encoder process is
// spawned.
func validateEdit(opts Options, sourceDurationSeconds float64, inputPath string) error {
	_, err := buildEditArgs(opts, sourceDurationSeconds, inputPath, inputPath, false)
	return err
}

func buildEditArgs(opts Options, sourceDurationSeconds float64, inputPath, outputPath string, audioPresent bool) ([]string, error) {
	workingDuration := sourceDurationSeconds

	var videoChain, audioChain []string

	if opts.StartTime != nil && opts.EndTime != nil {
		start, end := *opts.StartTime, *opts.EndTime
		if start > end || start < 0 || end < 0 {
			return nil, ErrInvalidTimeRange
		}
		workingDuration = sourceDurationSeconds - (end - start)
		if workingDuration <= 0 {
			return nil, ErrInvalidDuration
		}
		between := fmt.Sprintf("between(t,%.3f,%.3f)", start, end)
		videoChain = append(videoChain,
			fmt.Sprintf("select='not(%s)'", between),
			"setpts=N/FRAME_RATE/TB",
		)
		audioChain = append(audioChain,
			fmt.Sprintf("aselect='not(%s)'", between),
			"asetpts=N/SR/TB",
		)
	}

	if c := opts.Crop; c != nil {
		videoChain = append(videoChain, fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y))
	}

	ext := strings.ToLower(filepath.Ext(outputPath))

	var videoBitrateKbps int
	if opts.CompressToMB != nil {
		target := *opts.CompressToMB
		if target <= 0 {
			return nil, ErrInvalidTargetSize
		}
		if strings.ToLower(filepath.Ext(inputPath)) == ".gif" {
			return nil, ErrUnsupportedFormat
		}
		// A zero working duration would push the bitrate division to +Inf,
		// whose int conversion is platform-defined.
		if workingDuration <= 0 {
			return nil, ErrBitrateTooLow
		}
		targetBytes := target * 1024 * 1024
		totalKbps := int(math.Floor(targetBytes * 8 / 1000 / math.Ceil(workingDuration)))
		videoBitrateKbps = totalKbps - audioBitrateKbps
		if videoBitrateKbps <= 0 {
			return nil, ErrBitrateTooLow
		}
	}

	args := []string{"-i", inputPath}

	switch {
	case len(videoChain) > 0 && audioPresent && len(audioChain) > 0:
		filterComplex := fmt.Sprintf("[0:v]%s[v];[0:a]%s[a]",
			strings.Join(videoChain, ","), strings.Join(audioChain, ","))
		args = append(args, "-filter_complex", filterComplex, "-map", "[v]", "-map", "[a]")
	case len(videoChain) > 0 && audioPresent:
		args = append(args, "-vf", strings.Join(videoChain, ","))
	case len(videoChain) > 0:
		filterComplex := fmt.Sprintf("[0:v]%s[v]", strings.Join(videoChain, ","))
		args = append(args, "-filter_complex", filterComplex, "-map", "[v]", "-an")
	}

	args = append(args, "-c:v", videoCodecForExtension(ext))
	if audioPresent {
		args = append(args, "-c:a", audioCodecForExtension(ext))
	}

	if videoBitrateKbps > 0 {
		args = append(args, "-b:v", fmt.Sprintf("%dk", videoBitrateKbps))
		if audioPresent {
			args = append(args, "-b:a", fmt.Sprintf("%dk", audioBitrateKbps))
		}
	}

	args = append(args, "-y", outputPath)
	return args, nil
}

// webm gets the VP9 family; the mp4/mov containers cannot hold VP9 output
// from this pipeline and use H.264.
func videoCodecForExtension(ext string) string {
	if ext == ".webm" {
		return "libvpx-vp9"
	}
	return "libx264"
}

func audioCodecForExtension(ext string) string {
	if ext == ".webm" {
		return "libopus"
	}
	return "aac"
}

// hasAudioStream reports whether ffprobe finds an audio stream. On probe
// failure the encode proceeds without audio mapping rather than failing the
// whole edit.
func hasAudioStream(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) != ""
}

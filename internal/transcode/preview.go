package transcode

import (
	"context"
	"os/exec"
	"time"
)

const previewTimeout = 60 * time.Second

// CreatePreview renders a low-framerate, scaled, infinitely-looping animated
// GIF from the source video.
func (e *Engine) CreatePreview(ctx context.Context, inputPath, outputPath string) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	operationsTotal.WithLabelValues("preview").Inc()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vf", "fps=5,scale=320:-1:flags=lanczos",
		"-loop", "0",
		"-an",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		failuresTotal.WithLabelValues("preview").Inc()
		return &ExecError{Op: "preview", Output: string(output), Err: err}
	}
	return nil
}

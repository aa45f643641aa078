package transcode

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// recipe maps a target extension to a fixed codec/container argument list.
// Containers that are not natively streamable get fragmented-output flags so
// bytes written to the pipe are playable before the encode finishes.
type recipe struct {
	contentType string
	args        []string
}

var convertRecipes = map[string]recipe{
	".mp4": {"video/mp4", []string{
		"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac",
		"-movflags", "frag_keyframe+empty_moov", "-f", "mp4",
	}},
	".webm": {"video/webm", []string{
		"-c:v", "libvpx-vp9", "-deadline", "realtime", "-c:a", "libopus",
		"-f", "webm",
	}},
	".mov": {"video/quicktime", []string{
		"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac",
		"-movflags", "frag_keyframe+empty_moov", "-f", "mov",
	}},
	".mkv": {"video/x-matroska", []string{
		"-c:v", "libx264", "-preset", "veryfast", "-c:a", "aac",
		"-f", "matroska",
	}},
	".avi": {"video/x-msvideo", []string{
		"-c:v", "mpeg4", "-c:a", "libmp3lame",
		"-f", "avi",
	}},
	".gif": {"image/gif", []string{
		"-vf", "fps=10,scale=480:-1:flags=lanczos", "-loop", "0", "-an",
		"-f", "gif",
	}},
}

// ContentTypeForExtension returns the MIME type a conversion target is
// served with, or "" for an unsupported extension.
func ContentTypeForExtension(ext string) string {
	r, ok := convertRecipes[normalizeExt(ext)]
	if !ok {
		return ""
	}
	return r.contentType
}

// SupportedTarget reports whether ext is one of the convertible formats.
func SupportedTarget(ext string) bool {
	_, ok := convertRecipes[normalizeExt(ext)]
	return ok
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Convert starts an encoder writing the converted video to the returned
// stream as it is produced. The caller must drain and Close the stream;
// Close tears the encoder down, so it is safe to call mid-encode (client
// disconnect). Unsupported extensions fail before any process is spawned.
func (e *Engine) Convert(ctx context.Context, inputPath, targetExt string) (io.ReadCloser, error) {
	rec, ok := convertRecipes[normalizeExt(targetExt)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, targetExt)
	}

	release, err := e.acquire()
	if err != nil {
		return nil, err
	}

	args := append([]string{"-i", inputPath}, rec.args...)
	args = append(args, "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		release()
		return nil, fmt.Errorf("encoder stdout pipe: %w", err)
	}

	operationsTotal.WithLabelValues("convert").Inc()

	if err := cmd.Start(); err != nil {
		release()
		failuresTotal.WithLabelValues("convert").Inc()
		return nil, &ExecError{Op: "convert", Output: stderr.String(), Err: err}
	}

	return &liveStream{cmd: cmd, stdout: stdout, stderr: &stderr, release: release}, nil
}

// liveStream is the readable side of a running encoder. Read returns the
// encoder's output as produced; once the process exits with an error, Read
// surfaces an ExecError carrying the captured diagnostics.
type liveStream struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *strings.Builder
	release func()

	closeOnce sync.Once
	closeErr  error
}

func (s *liveStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		if waitErr := s.finish(false); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

// Close stops the encoder. Killing is the normal path when the client
// disconnects mid-stream; a finished process is just reaped.
func (s *liveStream) Close() error {
	return s.finish(true)
}

func (s *liveStream) finish(kill bool) error {
	s.closeOnce.Do(func() {
		if kill && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stdout.Close()
		err := s.cmd.Wait()
		s.release()
		if err != nil && !kill {
			failuresTotal.WithLabelValues("convert").Inc()
			s.closeErr = &ExecError{Op: "convert", Output: s.stderr.String(), Err: err}
		}
	})
	return s.closeErr
}

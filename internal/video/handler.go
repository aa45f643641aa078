// Package video implements the video lifecycle: ingestion, listing,
// pass-through and converting fetches, edits, preview derivatives, deletion,
// and the retention sweep that evicts expired accounts with their blobs.
package video

import (
	"context"
	"io"
	"time"

	"github.com/clipbin/clipbin/internal/database"
	"github.com/clipbin/clipbin/internal/media"
	"github.com/clipbin/clipbin/internal/transcode"
)

// MaxVideosPerAccount caps original uploads per account. Derivatives
// (animated previews) are exempt.
const MaxVideosPerAccount = 10

// ObjectStorage is the backend capability set the pipelines consume; both
// storage.Local and storage.S3 satisfy it.
type ObjectStorage interface {
	Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
	Delete(ctx context.Context, key string) error
	DownloadToFile(ctx context.Context, key string, destPath string) error
	UploadFile(ctx context.Context, key string, filePath string, contentType string) error
}

type Transcoder interface {
	CreatePreview(ctx context.Context, inputPath, outputPath string) error
	Edit(ctx context.Context, opts transcode.Options, sourceDurationSeconds float64, inputPath, outputPath string) error
	Convert(ctx context.Context, inputPath, targetExt string) (io.ReadCloser, error)
}

type Inspector interface {
	Inspect(ctx context.Context, path string) (media.Info, error)
}

type Record struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"createdAt"`
	Duration   *float64  `json:"duration"`
	Size       *int64    `json:"size"`
	Derivative bool      `json:"derivative"`
}

type Handler struct {
	db             database.DBTX
	storage        ObjectStorage
	transcoder     Transcoder
	inspector      Inspector
	maxUploadBytes int64
}

func NewHandler(db database.DBTX, s ObjectStorage, t Transcoder, i Inspector, maxUploadBytes int64) *Handler {
	return &Handler{
		db:             db,
		storage:        s,
		transcoder:     t,
		inspector:      i,
		maxUploadBytes: maxUploadBytes,
	}
}

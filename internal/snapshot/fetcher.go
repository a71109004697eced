// Package snapshot retrieves still images from the device and materializes
// them on disk for the host.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evihost/unifi-cam-proxy/internal/logger"
)

const (
	// DefaultChannel is the sub-stream channel used for pictures
	DefaultChannel = 102

	// FileName is the name of the materialized snapshot
	FileName = "screen.jpg"

	chunkSize = 1024
)

// PictureSource returns a still image body for a channel
type PictureSource interface {
	Picture(ctx context.Context, channel int) (io.ReadCloser, error)
}

// TransientFetchError reports a failed retrieval that may succeed on retry
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// Temporary reports that the caller may retry
func (e *TransientFetchError) Temporary() bool {
	return true
}

// IsTransient reports whether err is a *TransientFetchError
func IsTransient(err error) bool {
	var fetchErr *TransientFetchError
	return errors.As(err, &fetchErr)
}

// Fetcher downloads snapshots into a directory
type Fetcher struct {
	source  PictureSource
	dir     string
	channel int
	logger  *logger.Logger
}

// NewFetcher creates a fetcher writing into dir, creating it if needed
func NewFetcher(source PictureSource, dir string, log *logger.Logger) (*Fetcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Fetcher{
		source:  source,
		dir:     dir,
		channel: DefaultChannel,
		logger:  log.Named("snapshot"),
	}, nil
}

// Dir returns the snapshot directory
func (f *Fetcher) Dir() string {
	return f.dir
}

// Fetch retrieves one image and returns the path of the written file.
// Failures are returned as *TransientFetchError and leave no partial file.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	body, err := f.source.Picture(ctx, f.channel)
	if err != nil {
		return "", &TransientFetchError{Op: "request", Err: err}
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.dir, ".screen-*.tmp")
	if err != nil {
		return "", &TransientFetchError{Op: "create", Err: err}
	}
	tmpPath := tmp.Name()

	n, err := copyChunked(tmp, body)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", &TransientFetchError{Op: "download", Err: err}
	}

	path := filepath.Join(f.dir, FileName)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", &TransientFetchError{Op: "rename", Err: err}
	}

	f.logger.Debug("Snapshot written", "path", path, "bytes", n)
	return path, nil
}

func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/tomtom215/platebook/internal/logging"
)

// minUploadBurst is the smallest token bucket; reads are chunked to it.
const minUploadBurst = 32 * 1024

// uploadFormField is the multipart field holding the archive.
const uploadFormField = "file"

var (
	errUploadTooLarge = errors.New("upload exceeds the size limit")
	errUploadMissing  = errors.New("no archive in request")
)

// rateLimitedReader blocks reads so throughput stays under the limiter.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *rateLimitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// receiveUpload streams the request body, or the "file" part of a
// multipart form, into a temporary file in UploadDir. The caller removes it.
func (h *Handler) receiveUpload(w http.ResponseWriter, r *http.Request) (string, int64, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	var src io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		mr, err := r.MultipartReader()
		if err != nil {
			return "", 0, fmt.Errorf("reading multipart body: %w", err)
		}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", 0, errUploadMissing
			}
			if err != nil {
				return "", 0, uploadReadError(err)
			}
			if part.FormName() == uploadFormField {
				src = part
				break
			}
		}
	}

	if h.limiter != nil {
		src = &rateLimitedReader{ctx: r.Context(), r: src, limiter: h.limiter}
	}

	// The import- prefix lets startup recovery sweep leftovers.
	f, err := os.CreateTemp(h.opts.UploadDir, "import-upload-*.bin")
	if err != nil {
		return "", 0, fmt.Errorf("creating upload file: %w", err)
	}
	path := f.Name()

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && n == 0 {
		copyErr = errUploadMissing
	}
	if copyErr != nil {
		removeUpload(r.Context(), path)
		return "", 0, uploadReadError(copyErr)
	}
	return path, n, nil
}

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w (%d bytes)", errUploadTooLarge, maxErr.Limit)
	}
	return err
}

func removeUpload(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Removing upload failed")
	}
}

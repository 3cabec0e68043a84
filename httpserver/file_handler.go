/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/acronis/go-vlimit/httpserver/middleware"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/restapi"
)

// DefaultIndexFile is the file served when a directory is requested.
const DefaultIndexFile = "index.html"

// FileHandler serves static files from the target path resolved by the VLimit middleware.
// Since the handler runs inside the admission window, counters stay reserved
// until the whole file is written to the client.
type FileHandler struct {
	errDomain string
	indexFile string
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(errDomain string) *FileHandler {
	return &FileHandler{errDomain: errDomain, indexFile: DefaultIndexFile}
}

// ServeHTTP serves the file. Range and conditional requests are handled by http.ServeContent.
func (h *FileHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	res, ok := middleware.GetResolutionFromContext(r.Context())
	if !ok {
		h.respondError(rw, http.StatusNotFound, logger)
		return
	}

	f, fi, err := openFile(res.Target, h.indexFile)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			h.respondError(rw, http.StatusNotFound, logger)
		case errors.Is(err, fs.ErrPermission):
			h.respondError(rw, http.StatusForbidden, logger)
		default:
			if logger != nil {
				logger.Error("failed to open file", log.String("path", res.Target), log.Error(err))
			}
			restapi.RespondInternalError(rw, h.errDomain, logger)
		}
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && logger != nil {
			logger.Warn("failed to close file", log.String("path", f.Name()), log.Error(closeErr))
		}
	}()

	http.ServeContent(rw, r, fi.Name(), fi.ModTime(), f)
}

func (h *FileHandler) respondError(rw http.ResponseWriter, status int, logger log.FieldLogger) {
	restapi.RespondError(rw, status, restapi.NewErrorFromHTTPCode(h.errDomain, status), logger)
}

// openFile opens a regular file. A directory is replaced with its index file, if any.
func openFile(name, indexFile string) (*os.File, fs.FileInfo, error) {
	f, err := os.Open(name) // nolint:gosec // path is resolved against the document root
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if !fi.IsDir() {
		return f, fi, nil
	}
	_ = f.Close()
	if indexFile == "" {
		return nil, nil, fs.ErrNotExist
	}
	return openFile(filepath.Join(name, indexFile), "")
}

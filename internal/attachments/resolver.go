// Package attachments resolves opaque part locators into seekable byte
// streams. Two locator schemes are supported: "part:<id>" rows stored in
// Postgres and "file:<relative path>" blobs under a configured directory.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/quietwire/delivery/internal/delivery/domain"
)

const (
	partScheme = "part:"
	fileScheme = "file:"
)

// PgxIface is the pgx pool subset the resolver needs.
type PgxIface interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver opens attachment streams by locator. Every stream is fully
// materialized before return so callers can seek and re-read; media preview
// code depends on that.
type Resolver struct {
	db      PgxIface
	baseDir string
	logger  *slog.Logger
}

// NewResolver creates a resolver over the part table and the given blob
// directory.
func NewResolver(db PgxIface, baseDir string, logger *slog.Logger) *Resolver {
	return &Resolver{db: db, baseDir: baseDir, logger: logger.With("component", "attachment_resolver")}
}

type memoryStream struct{ *bytes.Reader }

func (memoryStream) Close() error { return nil }

// OpenStream resolves a locator to a seekable stream and its metadata.
// Unknown locators and unsupported schemes yield domain.ErrAttachmentNotFound.
func (r *Resolver) OpenStream(ctx context.Context, locator string) (io.ReadSeekCloser, domain.AttachmentMeta, error) {
	switch {
	case strings.HasPrefix(locator, partScheme):
		return r.openPart(ctx, strings.TrimPrefix(locator, partScheme))
	case strings.HasPrefix(locator, fileScheme):
		return r.openFile(ctx, strings.TrimPrefix(locator, fileScheme))
	default:
		return nil, domain.AttachmentMeta{}, fmt.Errorf("unsupported locator %q: %w", locator, domain.ErrAttachmentNotFound)
	}
}

func (r *Resolver) openPart(ctx context.Context, partID string) (io.ReadSeekCloser, domain.AttachmentMeta, error) {
	query := `SELECT content_type, data FROM attachment_parts WHERE id = $1`
	var contentType string
	var data []byte
	err := r.db.QueryRow(ctx, query, partID).Scan(&contentType, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.AttachmentMeta{}, fmt.Errorf("part %q: %w", partID, domain.ErrAttachmentNotFound)
		}
		return nil, domain.AttachmentMeta{}, fmt.Errorf("loading part %q: %w", partID, err)
	}

	meta := domain.AttachmentMeta{ContentType: contentType, Size: int64(len(data))}
	return memoryStream{bytes.NewReader(data)}, meta, nil
}

func (r *Resolver) openFile(ctx context.Context, relPath string) (io.ReadSeekCloser, domain.AttachmentMeta, error) {
	cleaned := filepath.Clean(relPath)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return nil, domain.AttachmentMeta{}, fmt.Errorf("path %q escapes attachment dir: %w", relPath, domain.ErrAttachmentNotFound)
	}

	full := filepath.Join(r.baseDir, cleaned)
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.AttachmentMeta{}, fmt.Errorf("file %q: %w", relPath, domain.ErrAttachmentNotFound)
		}
		return nil, domain.AttachmentMeta{}, fmt.Errorf("reading attachment file %q: %w", relPath, err)
	}

	meta := domain.AttachmentMeta{
		ContentType: contentTypeForPath(cleaned),
		Size:        int64(len(data)),
	}
	r.logger.DebugContext(ctx, "Resolved file attachment", "path", cleaned, "size", meta.Size)
	return memoryStream{bytes.NewReader(data)}, meta, nil
}

func contentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}

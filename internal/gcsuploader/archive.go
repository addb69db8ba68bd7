// Package gcsuploader keeps copies of uploaded invoice files in Google Cloud Storage.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/invoice-ingest/internal/domain"
	"github.com/dvloznov/invoice-ingest/internal/logger"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Archive stores raw uploads under uploads/{house}/{upload}/{filename}.
// It assumes Application Default Credentials are configured.
type Archive struct {
	client *storage.Client
	bucket string
}

// NewArchive creates a storage client for bucket.
func NewArchive(ctx context.Context, bucket string) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewArchive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchive: create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Store writes content and returns its gs:// URI.
func (a *Archive) Store(ctx context.Context, houseID, uploadID, filename string, kind domain.FileKind, content []byte) (string, error) {
	objectName := ObjectName(houseID, uploadID, filename)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = ContentType(kind)
	w.Metadata = map[string]string{
		"house_id":  houseID,
		"upload_id": uploadID,
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Store: write %s: %w", objectName, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Store: finalize %s: %w", objectName, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", a.bucket, objectName)
	log := logger.FromContext(ctx)
	log.Debug().
		Str("upload_id", uploadID).
		Str("gcs_uri", uri).
		Int("size_bytes", len(content)).
		Msg("Archived upload")
	return uri, nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI with a
// short-lived client.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: creating storage client: %w", err)
	}
	defer client.Close()

	return fetch(ctx, client, gcsURI)
}

func fetch(ctx context.Context, client *storage.Client, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}
	return data, nil
}

// ObjectName builds the object path of an archived upload. Directory parts of
// filename are dropped.
func ObjectName(houseID, uploadID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		base = "upload"
	}
	return path.Join("uploads", houseID, uploadID, base)
}

// ContentType returns the MIME type stored with an archived file.
func ContentType(kind domain.FileKind) string {
	switch kind {
	case domain.FileKindPDF:
		return "application/pdf"
	case domain.FileKindExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case domain.FileKindCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// ParseGCSURI splits gs://bucket/path into bucket and object path.
func ParseGCSURI(gcsURI string) (string, string, error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// Package document holds the read-only input handed to the pipeline and the
// loaders that produce it from paths, URLs and object storage.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMediaType is assumed when neither content nor name say otherwise.
const DefaultMediaType = "application/pdf"

// Document is the raw input of one extraction.
type Document struct {
	Data      []byte
	MediaType string
	Name      string // informational only; never part of cache keys
}

// New wraps data, detecting the media type when mediaType is empty.
func New(data []byte, name, mediaType string) *Document {
	if mediaType == "" {
		mediaType = DetectMediaType(data, name)
	}
	return &Document{Data: data, MediaType: mediaType, Name: name}
}

// Size returns the document size in bytes.
func (d *Document) Size() int64 { return int64(len(d.Data)) }

// Digest returns the sha256 hex digest of the document bytes.
func (d *Document) Digest() string {
	sum := sha256.Sum256(d.Data)
	return hex.EncodeToString(sum[:])
}

// IsImage reports whether the document is an image.
func (d *Document) IsImage() bool { return strings.HasPrefix(d.MediaType, "image/") }

var extTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".html": "text/html",
	".htm":  "text/html",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// DetectMediaType sniffs data, then falls back to the file extension, then to
// DefaultMediaType.
func DetectMediaType(data []byte, name string) string {
	byExt := extensionType(name)

	if len(data) > 0 {
		detected, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
		switch detected {
		case "application/octet-stream":
		case "text/plain":
			// text sniffing is generic; a known extension is more precise
			if strings.HasPrefix(byExt, "text/") || byExt == "application/json" {
				return byExt
			}
			return detected
		default:
			return detected
		}
	}

	if byExt != "" {
		return byExt
	}
	return DefaultMediaType
}

func extensionType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		base, _, _ := strings.Cut(t, ";")
		return base
	}
	return ""
}

package objectstore

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	noteExtension    = ".pdf"
	previewExtension = ".jpg"
)

// Layout derives object keys and public URLs from note identifiers.
type Layout struct {
	notesPrefix    string
	previewsPrefix string
	baseURL        string
}

// NewLayout validates the prefixes and base URL.
func NewLayout(notesPrefix, previewsPrefix, baseURL string) (Layout, error) {
	notesPrefix = strings.Trim(notesPrefix, "/ ")
	previewsPrefix = strings.Trim(previewsPrefix, "/ ")
	if notesPrefix == "" || previewsPrefix == "" {
		return Layout{}, fmt.Errorf("objectstore: prefixes are required")
	}
	if notesPrefix == previewsPrefix {
		return Layout{}, fmt.Errorf("objectstore: notes and previews prefixes must differ")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || !parsed.IsAbs() {
		return Layout{}, fmt.Errorf("objectstore: base url must be absolute")
	}
	return Layout{
		notesPrefix:    notesPrefix,
		previewsPrefix: previewsPrefix,
		baseURL:        strings.TrimRight(parsed.String(), "/"),
	}, nil
}

func (l Layout) NotesPrefix() string {
	return l.notesPrefix
}

func (l Layout) PreviewsPrefix() string {
	return l.previewsPrefix
}

// NoteKey returns the key of the note's PDF.
func (l Layout) NoteKey(noteID string) string {
	return path.Join(l.notesPrefix, noteID+noteExtension)
}

// PreviewKey returns the key of the note's preview image.
func (l Layout) PreviewKey(noteID string) string {
	return path.Join(l.previewsPrefix, noteID+previewExtension)
}

// URL joins the public base URL with the key.
func (l Layout) URL(key string) string {
	return l.baseURL + "/" + strings.TrimLeft(key, "/")
}

// ParseKey reports which note a key belongs to and whether it is a preview.
// Keys outside both prefixes, or with the wrong extension, are not recognised.
func (l Layout) ParseKey(key string) (noteID string, isPreview bool, ok bool) {
	dir, file := path.Split(strings.TrimLeft(key, "/"))
	dir = strings.TrimRight(dir, "/")
	switch {
	case dir == l.notesPrefix && strings.HasSuffix(file, noteExtension):
		noteID = strings.TrimSuffix(file, noteExtension)
	case dir == l.previewsPrefix && strings.HasSuffix(file, previewExtension):
		noteID = strings.TrimSuffix(file, previewExtension)
		isPreview = true
	default:
		return "", false, false
	}
	if noteID == "" {
		return "", false, false
	}
	return noteID, isPreview, true
}

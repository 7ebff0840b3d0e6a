// Package metadata holds the optional description of a video that drives the
// system media notification.
package metadata

import (
	"bytes"
	"errors"
)

var (
	ErrMissingTitle    = errors.New("metadata: title is required")
	ErrMissingSubtitle = errors.New("metadata: subtitle is required")
)

// Fields is the raw, possibly incomplete input to New. Pointer fields are nil
// when the host did not send them.
type Fields struct {
	Title          *string `json:"title"`
	Subtitle       *string `json:"subtitle"`
	ThumbnailURI   *string `json:"thumbnailUri,omitempty"`
	ThumbnailBytes []byte  `json:"thumbnailBytes,omitempty"`
}

// Video is an immutable metadata value. It is safe for concurrent reads.
type Video struct {
	title          string
	subtitle       string
	thumbnailURI   string
	thumbnailBytes []byte
}

// New validates f and returns an immutable Video. Title and subtitle must be
// present; they may be empty strings.
func New(f Fields) (*Video, error) {
	if f.Title == nil {
		return nil, ErrMissingTitle
	}
	if f.Subtitle == nil {
		return nil, ErrMissingSubtitle
	}
	v := &Video{
		title:    *f.Title,
		subtitle: *f.Subtitle,
	}
	if f.ThumbnailURI != nil {
		v.thumbnailURI = *f.ThumbnailURI
	}
	if len(f.ThumbnailBytes) > 0 {
		v.thumbnailBytes = bytes.Clone(f.ThumbnailBytes)
	}
	return v, nil
}

func (v *Video) Title() string    { return v.title }
func (v *Video) Subtitle() string { return v.subtitle }

// ThumbnailURI returns the remote artwork location, or "" when absent.
func (v *Video) ThumbnailURI() string { return v.thumbnailURI }

// ThumbnailBytes returns a copy of the inline artwork, or nil when absent.
func (v *Video) ThumbnailBytes() []byte { return bytes.Clone(v.thumbnailBytes) }

// HasThumbnailBytes reports whether inline artwork is present. Inline bytes
// take priority over ThumbnailURI.
func (v *Video) HasThumbnailBytes() bool { return len(v.thumbnailBytes) > 0 }

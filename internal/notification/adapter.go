// Package notification mirrors a playback session into the system media
// notification and media session.
package notification

import (
	"context"
	"image"
	"sync"

	log "github.com/sirupsen/logrus"

	"player-session/internal/metadata"
)

// Artwork is a decoded thumbnail. Path is the exported PNG file, empty when
// export is unavailable.
type Artwork struct {
	Image image.Image
	Path  string
}

// BitmapCallback receives artwork resolved by LargeIcon.
type BitmapCallback func(Artwork)

// ImageLoader decodes and fetches thumbnails. *artwork.Loader implements it.
type ImageLoader interface {
	Decode(data []byte) (image.Image, error)
	Load(ctx context.Context, uri string) (image.Image, error)
	Export(img image.Image) (string, error)
}

// DescriptorAdapter supplies title, subtitle and artwork for one session's
// notification.
type DescriptorAdapter struct {
	meta   *metadata.Video
	loader ImageLoader

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

func NewDescriptorAdapter(meta *metadata.Video, loader ImageLoader) *DescriptorAdapter {
	return &DescriptorAdapter{meta: meta, loader: loader}
}

func (a *DescriptorAdapter) Title() string    { return a.meta.Title() }
func (a *DescriptorAdapter) Subtitle() string { return a.meta.Subtitle() }

// LargeIcon always returns nil; the artwork is delivered to cb once,
// asynchronously, if the metadata has a thumbnail and it resolves. A newer
// call supersedes any request still in flight.
func (a *DescriptorAdapter) LargeIcon(cb BitmapCallback) image.Image {
	var resolve func(ctx context.Context) (image.Image, error)
	switch {
	case a.meta.HasThumbnailBytes():
		data := a.meta.ThumbnailBytes()
		resolve = func(context.Context) (image.Image, error) { return a.loader.Decode(data) }
	case a.meta.ThumbnailURI() != "":
		uri := a.meta.ThumbnailURI()
		resolve = func(ctx context.Context) (image.Image, error) { return a.loader.Load(ctx, uri) }
	default:
		return nil
	}

	a.mu.Lock()
	if a.closed || a.loader == nil {
		a.mu.Unlock()
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.gen++
	gen := a.gen
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go func() {
		defer cancel()
		img, err := resolve(ctx)
		if err != nil {
			log.Debugf("[notification] artwork unavailable: %v", err)
			return
		}
		art := Artwork{Image: img}
		if path, err := a.loader.Export(img); err == nil {
			art.Path = path
		}
		if !a.current(gen) {
			return
		}
		cb(art)
	}()
	return nil
}

func (a *DescriptorAdapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && a.gen == gen
}

// Close stops delivering artwork. A request in flight finishes on its own
// and its result is dropped.
func (a *DescriptorAdapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

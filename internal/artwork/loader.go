// Package artwork fetches and decodes notification thumbnails.
package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"player-session/internal/media"
)

const maxImageBytes = 16 << 20

// Options configures a Loader. Zero values select the defaults.
type Options struct {
	// Timeout bounds one remote fetch. Default 10s.
	Timeout time.Duration
	// Rate and Burst limit remote fetches across all sessions. Default 5/s, burst 5.
	Rate  rate.Limit
	Burst int
	// Dir receives exported PNG files. Empty disables Export.
	Dir string
	// Client overrides the HTTP client.
	Client *http.Client
}

// Loader resolves thumbnails from inline bytes, http(s) URIs or local files.
type Loader struct {
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group
	dir     string
}

func NewLoader(opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Rate == 0 {
		opts.Rate = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Loader{
		http:    client,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
		dir:     opts.Dir,
	}
}

// Decode decodes PNG, JPEG, GIF, WebP or BMP data.
func (l *Loader) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	log.Debugf("[artwork] decoded %s %dx%d", format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Load fetches and decodes the image at uri. Concurrent loads of the same
// uri share one fetch; ctx only bounds this caller's wait.
func (l *Loader) Load(ctx context.Context, uri string) (image.Image, error) {
	ch := l.group.DoChan(uri, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		data, err := l.fetch(fetchCtx, uri)
		if err != nil {
			return nil, err
		}
		return l.Decode(data)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}

func (l *Loader) fetch(ctx context.Context, uri string) ([]byte, error) {
	if media.IsNetwork(uri) {
		return l.fetchRemote(ctx, uri)
	}
	path := uri
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		path = u.Path
	} else if strings.Contains(uri, "://") {
		return nil, fmt.Errorf("unsupported artwork uri %q", uri)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artwork: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxImageBytes))
}

func (l *Loader) fetchRemote(ctx context.Context, uri string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", media.UserAgent)

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artwork fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// Export writes img as a PNG file under the loader's directory and returns
// its path.
func (l *Loader) Export(img image.Image) (string, error) {
	if l.dir == "" {
		return "", fmt.Errorf("export: no artwork directory")
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(l.dir, uuid.NewString()+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("export encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return path, nil
}

// Dir is the export directory.
func (l *Loader) Dir() string {
	return l.dir
}

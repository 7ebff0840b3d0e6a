// Package media resolves a playback source URI into the streaming protocol
// adapter the engine should use, distinguishing progressive downloads from
// adaptive manifests (HLS, DASH, Smooth Streaming).
package media

import (
	"net/url"
	"path"
	"strings"
)

// Kind is the streaming protocol of a source.
type Kind int

const (
	Unknown Kind = iota
	Progressive
	HLS
	DASH
	SmoothStreaming
)

func (k Kind) String() string {
	switch k {
	case Progressive:
		return "progressive"
	case HLS:
		return "hls"
	case DASH:
		return "dash"
	case SmoothStreaming:
		return "ss"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind appear as its name in JSON and logs.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Manifest file extensions.
var manifestExts = map[string]Kind{
	".m3u8": HLS,
	".m3u":  HLS,
	".mpd":  DASH,
	".ism":  SmoothStreaming,
	".isml": SmoothStreaming,
}

// Infer returns the protocol kind for a source URI based on its path. Any
// path that is not a recognizable manifest is treated as a progressive file,
// mirroring how players infer content types from a URI.
func Infer(rawURI string) Kind {
	if strings.TrimSpace(rawURI) == "" {
		return Unknown
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return Unknown
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	p = strings.ToLower(p)

	// Smooth Streaming servers also serve HLS and DASH renditions of the
	// same ".ism/Manifest" path, selected by a format suffix.
	if i := ismIndex(p); i >= 0 {
		switch rest := p[i:]; {
		case strings.Contains(rest, "format=m3u8-aapl"):
			return HLS
		case strings.Contains(rest, "format=mpd-time-csf"):
			return DASH
		default:
			return SmoothStreaming
		}
	}

	if k, ok := manifestExts[path.Ext(p)]; ok {
		return k
	}
	return Progressive
}

func ismIndex(p string) int {
	if i := strings.Index(p, ".ism/manifest"); i >= 0 {
		return i
	}
	return strings.Index(p, ".isml/manifest")
}

// IsNetwork reports whether the URI is fetched over HTTP(S) and therefore
// accepts request headers.
func IsNetwork(rawURI string) bool {
	u, err := url.Parse(rawURI)
	if err != nil || u.Scheme == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

package media

import (
	"fmt"
	"maps"
)

// Format hints accepted from the host. Anything else is rejected.
const (
	HintSmoothStreaming = "ss"
	HintDASH            = "dash"
	HintHLS             = "hls"
	HintOther           = "other"
)

var hintKinds = map[string]Kind{
	HintSmoothStreaming: SmoothStreaming,
	HintDASH:            DASH,
	HintHLS:             HLS,
	HintOther:           Progressive,
}

// UserAgent is sent with every network request made on behalf of a session.
const UserAgent = "player-session"

// Descriptor is a resolved playback source. It is immutable once returned by
// Resolve; Headers is a private copy.
type Descriptor struct {
	Kind    Kind
	URI     string
	Headers map[string]string
	// Network is true for http(s) sources. Only network sources carry
	// headers, a user agent and cross-protocol redirects.
	Network bool
}

// UnsupportedFormatError is returned when neither the format hint nor the
// URI maps to a known streaming protocol. Value holds the unmatched hint, or
// the URI when no hint was given.
type UnsupportedFormatError struct {
	Value string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format: %q", e.Value)
}

// Resolve selects the streaming protocol for uri. A nil hint means "infer
// from the URI"; a non-nil hint must be one of ss, dash, hls or other.
// Headers are dropped for non-network sources. Resolve performs no I/O.
func Resolve(uri string, hint *string, headers map[string]string) (Descriptor, error) {
	var kind Kind
	if hint == nil {
		kind = Infer(uri)
		if kind == Unknown {
			return Descriptor{}, &UnsupportedFormatError{Value: uri}
		}
	} else {
		k, ok := hintKinds[*hint]
		if !ok {
			return Descriptor{}, &UnsupportedFormatError{Value: *hint}
		}
		kind = k
	}

	d := Descriptor{
		Kind:    kind,
		URI:     uri,
		Network: IsNetwork(uri),
	}
	if d.Network && len(headers) > 0 {
		d.Headers = maps.Clone(headers)
	}
	return d, nil
}

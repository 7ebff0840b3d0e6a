package session

import (
	"player-session/internal/metadata"
	"player-session/internal/surface"
)

// RequestJSON is the wire form of a create request, shared by the HTTP API
// and spool files.
type RequestJSON struct {
	URI           string            `json:"uri"`
	FormatHint    *string           `json:"formatHint"`
	HTTPHeaders   map[string]string `json:"httpHeaders"`
	MixWithOthers bool              `json:"mixWithOthers"`
	Metadata      *metadata.Fields  `json:"metadata"`
	Geometry      *surface.Geometry `json:"geometry"`
}

// Request validates the metadata and builds the session request.
func (rj RequestJSON) Request() (Request, error) {
	req := Request{
		URI:        rj.URI,
		FormatHint: rj.FormatHint,
		Headers:    rj.HTTPHeaders,
		Options:    Options{MixWithOthers: rj.MixWithOthers},
		Geometry:   rj.Geometry,
	}
	if rj.Metadata != nil {
		v, err := metadata.New(*rj.Metadata)
		if err != nil {
			return Request{}, err
		}
		req.Metadata = v
	}
	return req, nil
}

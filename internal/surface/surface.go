// Package surface allocates the render targets video sessions draw into.
// Each target is a rectangular region of the screen; geometry is expressed in
// percentages (0-100) of the total screen area.
package surface

import (
	"errors"
	"fmt"
	"sync"
)

// Geometry is a rectangular region in screen percentages.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fullscreen is the default geometry.
func Fullscreen() Geometry {
	return Geometry{X: 0, Y: 0, Width: 100, Height: 100}
}

// Validate checks that the geometry has positive dimensions and fits on screen.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", g.Width, g.Height)
	}
	if g.X < 0 || g.Y < 0 || g.X+g.Width > 100 || g.Y+g.Height > 100 {
		return fmt.Errorf("geometry %dx%d at %d,%d exceeds screen bounds", g.Width, g.Height, g.X, g.Y)
	}
	return nil
}

// IsFullscreen reports whether the geometry covers the whole screen.
func (g Geometry) IsFullscreen() bool {
	return g.X == 0 && g.Y == 0 && g.Width >= 100 && g.Height >= 100
}

// Rect is a region in pixels.
type Rect struct {
	X, Y, W, H int
}

// Pixels converts the percent geometry to pixels for the given screen.
func (g Geometry) Pixels(screenW, screenH int) Rect {
	if g.IsFullscreen() {
		return Rect{W: screenW, H: screenH}
	}
	return Rect{
		X: g.X * screenW / 100,
		Y: g.Y * screenH / 100,
		W: g.Width * screenW / 100,
		H: g.Height * screenH / 100,
	}
}

// ErrReleased is returned when binding a surface to a released target.
var ErrReleased = errors.New("surface: target released")

// Registry hands out render targets with unique ids. It stands in for the
// host's texture registry.
type Registry struct {
	mu      sync.Mutex
	screenW int
	screenH int
	nextID  int64
	targets map[int64]*Target
}

// NewRegistry creates a registry for a screen of the given pixel size.
func NewRegistry(screenW, screenH int) *Registry {
	return &Registry{
		screenW: screenW,
		screenH: screenH,
		targets: make(map[int64]*Target),
	}
}

// CreateTarget allocates a new render target covering g.
func (r *Registry) CreateTarget(g Geometry) (*Target, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t := &Target{
		id:       r.nextID,
		geometry: g,
		rect:     g.Pixels(r.screenW, r.screenH),
		registry: r,
	}
	r.targets[t.id] = t
	return t, nil
}

// Len returns the number of live targets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	delete(r.targets, id)
	r.mu.Unlock()
}

// Target is one host-allocated render target.
type Target struct {
	id       int64
	geometry Geometry
	rect     Rect
	registry *Registry

	mu       sync.Mutex
	released bool
}

func (t *Target) ID() int64          { return t.id }
func (t *Target) Geometry() Geometry { return t.geometry }
func (t *Target) Rect() Rect         { return t.rect }

// Release returns the target to the registry. It reports whether this call
// performed the release; later calls are no-ops.
func (t *Target) Release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return false
	}
	t.released = true
	if t.registry != nil {
		t.registry.remove(t.id)
	}
	return true
}

// Released reports whether Release has been called.
func (t *Target) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

// Surface is a session's drawing binding on a target. The session owns it and
// releases it before the target itself.
type Surface struct {
	target *Target

	mu       sync.Mutex
	released bool
}

// New binds a surface to t.
func New(t *Target) (*Surface, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	return &Surface{target: t}, nil
}

func (s *Surface) TargetID() int64 { return s.target.ID() }
func (s *Surface) Rect() Rect      { return s.target.Rect() }

// Fullscreen reports whether the surface covers the whole screen.
func (s *Surface) Fullscreen() bool { return s.target.Geometry().IsFullscreen() }

// Release drops the binding. It reports whether this call performed the
// release.
func (s *Surface) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	return true
}

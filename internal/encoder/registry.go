package encoder

import (
	"fmt"
	"image/png"
	"strings"
)

// Registry holds all available encoders keyed by format.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry creates a registry, probing all encoders for availability.
func NewRegistry() *Registry {
	return NewRegistryWith(
		&WebPEncoder{Method: 2},
		&JPEGEncoder{},
		&PNGEncoder{Level: png.DefaultCompression},
	)
}

// NewRegistryWith registers the given encoders. Only available ones are kept.
func NewRegistryWith(all ...Encoder) *Registry {
	r := &Registry{
		encoders: make(map[string]Encoder),
	}
	for _, enc := range all {
		if enc.Available() {
			r.encoders[enc.Format()] = enc
		}
	}
	return r
}

// Get returns an encoder for the given format, or nil if unavailable.
func (r *Registry) Get(format string) Encoder {
	return r.encoders[strings.ToLower(format)]
}

// Available returns all available format names.
func (r *Registry) Available() []string {
	var result []string
	for _, f := range []string{"webp", "jpeg", "png"} {
		if _, ok := r.encoders[f]; ok {
			result = append(result, f)
		}
	}
	return result
}

// Preview returns the encoder for previews, falling back to JPEG when the
// requested format is unavailable.
func (r *Registry) Preview(format string) Encoder {
	if enc := r.Get(format); enc != nil {
		return enc
	}
	return r.Get("jpeg")
}

// String returns a summary of available encoders.
func (r *Registry) String() string {
	avail := r.Available()
	if len(avail) == 0 {
		return "no encoders available"
	}
	return fmt.Sprintf("encoders: %s", strings.Join(avail, ", "))
}

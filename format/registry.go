// Package format implements the FormatRegistry from spec §4.3: a
// magic-byte/extension/MIME table mapping to demuxer factories, probed in
// descending-priority order.
package format

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"

	"github.com/segin/psymp3-sub001/iosource"
)

// ScratchSize is the number of leading bytes probe reads into its scratch
// buffer (spec §4.3 step 1: "at least 64").
const ScratchSize = 256

// Signature is a FormatSignature record (spec §3).
type Signature struct {
	FormatID    string
	Pattern     []byte
	Offset      uint32
	Priority    int32
	Mask        []byte // optional; same length as Pattern if present
	ExtOnly     bool   // true for extension-only formats (e.g. raw PCM)
	Extensions  []string
}

// MediaFormat is the human-facing description of a supported format
// (spec §3).
type MediaFormat struct {
	FormatID         string
	DisplayName      string
	Extensions       []string
	MIMETypes        []string
	Priority         int32
	SupportsStreaming bool
	SupportsSeeking   bool
	Description       string
}

// Factory constructs a demuxer over an opened ByteSource. It is registered
// per format_id and invoked by MediaFactory once probing picks a format.
// The returned value always implements demux.Demuxer; it is typed any here
// (the way the standard library's image.RegisterFormat decouples the
// registry from the decoder package) so this package never imports demux
// and demuxer packages can self-register without a cycle.
type Factory func(src iosource.ByteSource) (any, error)

// Registry holds the signature table and demuxer factories. Registration is
// thread-safe; Probe takes a read lock (spec §4.3).
type Registry struct {
	mu         sync.RWMutex
	signatures []Signature
	factories  map[string]Factory
	formats    map[string]MediaFormat
}

// New returns an empty Registry. Most callers should use Default.
func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		formats:   make(map[string]MediaFormat),
	}
}

// Default is the process-wide FormatRegistry singleton (spec §9).
var Default = New()

// Register adds a signature, its factory, and its MediaFormat description.
// Re-registering the same FormatID replaces the prior factory/description
// but appends the signature (callers wanting to replace a signature set
// should construct a new Registry).
func (r *Registry) Register(sig Signature, factory Factory, mf MediaFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.signatures = append(r.signatures, sig)
	sortSignaturesDescending(r.signatures)
	r.factories[sig.FormatID] = factory
	r.formats[sig.FormatID] = mf
}

func sortSignaturesDescending(sigs []Signature) {
	for i := 1; i < len(sigs); i++ {
		for j := i; j > 0 && sigs[j-1].Priority < sigs[j].Priority; j-- {
			sigs[j-1], sigs[j] = sigs[j], sigs[j-1]
		}
	}
}

// Probe implements spec §4.3's probe algorithm: read a scratch prefix, walk
// signatures in descending priority comparing pattern at offset (honoring
// mask bits), then fall back to extension-only formats if nothing matched.
func (r *Registry) Probe(src iosource.ByteSource, pathHint string) (string, bool) {
	scratch := make([]byte, ScratchSize)
	n, _ := src.Read(scratch)
	scratch = scratch[:n]
	src.Seek(0, iosource.SeekStart)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sig := range r.signatures {
		if sig.ExtOnly {
			continue
		}
		if matchSignature(scratch, sig) {
			return sig.FormatID, true
		}
	}

	if pathHint == "" {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == "" {
		return "", false
	}
	for _, sig := range r.signatures {
		if !sig.ExtOnly {
			continue
		}
		for _, e := range sig.Extensions {
			if strings.EqualFold(e, ext) {
				return sig.FormatID, true
			}
		}
	}
	return "", false
}

func matchSignature(scratch []byte, sig Signature) bool {
	end := int(sig.Offset) + len(sig.Pattern)
	if end > len(scratch) {
		return false
	}
	window := scratch[sig.Offset:end]
	if sig.Mask == nil {
		return bytes.Equal(window, sig.Pattern)
	}
	for i := range sig.Pattern {
		if window[i]&sig.Mask[i] != sig.Pattern[i]&sig.Mask[i] {
			return false
		}
	}
	return true
}

// Factory returns the registered factory for formatID, if any.
func (r *Registry) Factory(formatID string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[formatID]
	return f, ok
}

// Formats enumerates every registered MediaFormat, for UI/diagnostics use
// (spec §4.3).
func (r *Registry) Formats() []MediaFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MediaFormat, 0, len(r.formats))
	for _, mf := range r.formats {
		out = append(out, mf)
	}
	return out
}

// Signatures enumerates every registered FormatSignature, for
// UI/diagnostics use.
func (r *Registry) Signatures() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Signature, len(r.signatures))
	copy(out, r.signatures)
	return out
}

// Package media implements MediaFactory (spec §4.7): the single entry point
// that turns a URI into a ready-to-play stream.Stream, and the plugin/
// runtime registration hooks from spec §4.9.
package media

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/demux"
	"github.com/segin/psymp3-sub001/format"
	"github.com/segin/psymp3-sub001/internal/logging"
	"github.com/segin/psymp3-sub001/iosource"
	"github.com/segin/psymp3-sub001/mediatype"
	"github.com/segin/psymp3-sub001/stream"
)

// OpenOptions carries the per-call configuration flags from spec §6.
type OpenOptions struct {
	// PreferFormatID overrides FormatRegistry auto-detection.
	PreferFormatID string
	// MimeHint provides a MIME type when probing byte-only (HTTP) sources
	// that lack a useful path extension.
	MimeHint string
	// MaxMemoryBytes is a per-stream memory cap. Open does not read it; no
	// cap is applied to the stream's buffers.
	MaxMemoryBytes int64
	// NetworkTimeoutMs bounds each HTTP request's budget.
	NetworkTimeoutMs int
	// EnableMD5Check selects FLAC whole-stream MD5 verification. Open does
	// not read it; no MD5 verification is performed.
	EnableMD5Check bool
	// StrictMode selects treating recoverable corruption (CorruptFrame) as
	// fatal. Open does not read it, so the codecs' own skip-and-count
	// handling of corrupt frames applies unchanged.
	StrictMode bool
	// Logger receives demuxer/codec diagnostics (spec §6, "Host logger").
	// Defaults to logging.Null when left unset.
	Logger logging.Logger
}

// loggable is satisfied by every demux.Demuxer and codec.Codec this module
// ships, since all of them embed demux.Base/codec.Base; kept as an optional
// interface rather than added to the Demuxer/Codec contracts so a
// hand-written implementation isn't forced to accept a logger.
type loggable interface {
	SetLogger(logging.Logger)
}

// CodecFactory constructs a codec.Codec. demuxerAny is the concrete *T the
// format.Factory produced (any, since format.Factory itself is untyped to
// avoid an import cycle); only codec/flac's factory needs it, to bind its
// codec to the demuxer's shared mewkiz/flac.Stream (see demux/flac's
// package doc).
type CodecFactory func(demuxerAny any) codec.Codec

// Factory is the MediaFactory from spec §4.7: a FormatRegistry plus a
// codec-name -> CodecFactory table, both extensible at runtime (spec §4.9,
// "Plugin/runtime hooks").
type Factory struct {
	formats *format.Registry

	mu     sync.RWMutex
	codecs map[string]CodecFactory
}

// NewFactory returns a Factory over the given FormatRegistry with no codecs
// registered (use RegisterBuiltins to populate it). The package-level
// Default is one backed by format.Default with every built-in format/codec
// already registered.
func NewFactory(formats *format.Registry) *Factory {
	return &Factory{formats: formats, codecs: make(map[string]CodecFactory)}
}

// Default is the process-wide MediaFactory singleton, pre-populated with
// every built-in demuxer and codec.
var Default = newDefaultFactory()

func newDefaultFactory() *Factory {
	f := NewFactory(format.Default)
	RegisterBuiltins(f)
	return f
}

// RegisterCodec adds or replaces the CodecFactory for a codec name (spec
// §4.9: "register extra demuxers/codecs" at runtime).
func (f *Factory) RegisterCodec(codecName string, factory CodecFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codecs[codecName] = factory
}

// RegisterFormat adds a demuxer format to the Factory's FormatRegistry
// (spec §4.9). Convenience wrapper over format.Registry.Register.
func (f *Factory) RegisterFormat(sig format.Signature, demuxFactory format.Factory, mf format.MediaFormat) {
	f.formats.Register(sig, demuxFactory, mf)
}

func (f *Factory) codecFactory(name string) (CodecFactory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cf, ok := f.codecs[name]
	return cf, ok
}

// ErrUnsupportedFormat is returned when no registered FormatSignature
// matches the source and no PreferFormatID/MimeHint resolves one either
// (spec §7, BadMagic -> "MediaFactory tries the next candidate or fails
// UnsupportedFormat").
type ErrUnsupportedFormat struct {
	URI string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("media: no demuxer recognises %q", e.URI)
}

// ErrUnsupportedCodec is returned when a container parses fine but no
// CodecFactory is registered for its primary stream's codec name.
type ErrUnsupportedCodec struct {
	CodecName string
}

func (e *ErrUnsupportedCodec) Error() string {
	return fmt.Sprintf("media: no codec registered for %q", e.CodecName)
}

// Open is MediaFactory.open from spec §4.7: resolves uri to a ByteSource,
// probes the FormatRegistry, constructs the matching Demuxer, selects the
// primary audio stream, instantiates its Codec, and returns both bound
// inside a stream.Stream.
func (f *Factory) Open(uri string, opts OpenOptions) (*stream.Stream, error) {
	src, pathHint, err := f.openSource(uri, opts)
	if err != nil {
		return nil, err
	}

	formatID := opts.PreferFormatID
	if formatID == "" {
		id, ok := f.formats.Probe(src, pathHint)
		if !ok {
			src.Close()
			return nil, &ErrUnsupportedFormat{URI: uri}
		}
		formatID = id
	}

	demuxFactory, ok := f.formats.Factory(formatID)
	if !ok {
		src.Close()
		return nil, &ErrUnsupportedFormat{URI: uri}
	}

	demuxerAny, err := demuxFactory(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("media: construct demuxer %q: %w", formatID, err)
	}
	demuxer, ok := demuxerAny.(demux.Demuxer)
	if !ok {
		src.Close()
		return nil, fmt.Errorf("media: factory %q did not produce a demux.Demuxer", formatID)
	}
	if l, ok := demuxerAny.(loggable); ok && opts.Logger != nil {
		l.SetLogger(opts.Logger)
	}

	if err := demuxer.ParseContainer(); err != nil {
		src.Close()
		return nil, fmt.Errorf("media: parse container: %w", err)
	}

	info, ok := primaryAudioStream(demuxer)
	if !ok {
		src.Close()
		return nil, fmt.Errorf("media: %q: no audio stream found", formatID)
	}

	codecFactory, ok := f.codecFactory(info.CodecName)
	if !ok {
		src.Close()
		return nil, &ErrUnsupportedCodec{CodecName: info.CodecName}
	}

	cod := codecFactory(demuxerAny)
	if l, ok := any(cod).(loggable); ok && opts.Logger != nil {
		l.SetLogger(opts.Logger)
	}
	st, err := stream.New(demuxer, cod, info.StreamID)
	if err != nil {
		src.Close()
		return nil, err
	}
	return st, nil
}

func primaryAudioStream(demuxer demux.Demuxer) (mediatype.StreamInfo, bool) {
	for _, s := range demuxer.Streams() {
		if s.CodecType == "audio" {
			return s, true
		}
	}
	return mediatype.StreamInfo{}, false
}

// openSource resolves uri to a ByteSource: "file://" and bare paths open a
// local iosource.FileByteSource, "http://"/"https://" open an
// iosource.HTTPByteSource. pathHint is the path/URL tail used for
// extension-based format probing (spec §4.3 step 2).
func (f *Factory) openSource(uri string, opts OpenOptions) (iosource.ByteSource, string, error) {
	u, err := url.Parse(uri)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		httpOpts := []iosource.HTTPOption{}
		if opts.NetworkTimeoutMs > 0 {
			httpOpts = append(httpOpts, iosource.WithTimeout(time.Duration(opts.NetworkTimeoutMs)*time.Millisecond))
		}
		src := iosource.OpenHTTP(uri, httpOpts...)
		hint := u.Path
		if filepath.Ext(hint) == "" && opts.MimeHint != "" {
			hint = mimeToExt(opts.MimeHint)
		}
		return src, hint, nil
	}

	path := uri
	if strings.HasPrefix(path, "file://") {
		path = strings.TrimPrefix(path, "file://")
	}
	src, err := iosource.OpenFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("media: open %q: %w", uri, err)
	}
	return src, filepath.Ext(path), nil
}

func mimeToExt(mime string) string {
	switch mime {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/aiff", "audio/x-aiff":
		return ".aiff"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/basic":
		return ".au"
	default:
		return ""
	}
}

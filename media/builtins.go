package media

import (
	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/codec/aac"
	"github.com/segin/psymp3-sub001/codec/alac"
	codecflac "github.com/segin/psymp3-sub001/codec/flac"
	"github.com/segin/psymp3-sub001/codec/mp3"
	"github.com/segin/psymp3-sub001/codec/opus"
	"github.com/segin/psymp3-sub001/codec/pcm"
	"github.com/segin/psymp3-sub001/codec/vorbis"
	demuxflac "github.com/segin/psymp3-sub001/demux/flac"
	demuxmp3 "github.com/segin/psymp3-sub001/demux/mp3"
	"github.com/segin/psymp3-sub001/demux/aiff"
	"github.com/segin/psymp3-sub001/demux/mp4"
	"github.com/segin/psymp3-sub001/demux/ogg"
	"github.com/segin/psymp3-sub001/demux/rawpcm"
	"github.com/segin/psymp3-sub001/demux/riff"
	"github.com/segin/psymp3-sub001/format"
	"github.com/segin/psymp3-sub001/iosource"
)

// RegisterBuiltins wires every demuxer and codec shipped by this module
// into f (spec §4.9's registration hooks, applied to the built-in set
// rather than a plugin). Default calls this once at package init.
func RegisterBuiltins(f *Factory) {
	registerBuiltinFormats(f)
	registerBuiltinCodecs(f)
}

func registerBuiltinFormats(f *Factory) {
	f.RegisterFormat(
		format.Signature{FormatID: "riff-wave", Pattern: []byte("RIFF"), Offset: 0, Priority: 100},
		riff.New,
		format.MediaFormat{
			FormatID: "riff-wave", DisplayName: "WAVE", Extensions: []string{".wav", ".wave"},
			MIMETypes: []string{"audio/wav", "audio/x-wav"}, Priority: 100,
			SupportsStreaming: true, SupportsSeeking: true,
			Description: "Microsoft RIFF/WAVE container",
		},
	)

	f.RegisterFormat(
		format.Signature{FormatID: "aiff", Pattern: []byte("FORM"), Offset: 0, Priority: 100},
		aiff.New,
		format.MediaFormat{
			FormatID: "aiff", DisplayName: "AIFF/AIFC", Extensions: []string{".aiff", ".aif", ".aifc"},
			MIMETypes: []string{"audio/aiff", "audio/x-aiff"}, Priority: 100,
			SupportsStreaming: true, SupportsSeeking: true,
			Description: "Audio Interchange File Format",
		},
	)

	f.RegisterFormat(
		format.Signature{FormatID: "ogg", Pattern: []byte("OggS"), Offset: 0, Priority: 100},
		ogg.New,
		format.MediaFormat{
			FormatID: "ogg", DisplayName: "Ogg", Extensions: []string{".ogg", ".oga", ".opus"},
			MIMETypes: []string{"audio/ogg", "application/ogg"}, Priority: 100,
			SupportsStreaming: true, SupportsSeeking: true,
			Description: "Ogg page/packet container (Vorbis, Opus, FLAC-in-Ogg)",
		},
	)

	f.RegisterFormat(
		format.Signature{FormatID: "flac", Pattern: []byte("fLaC"), Offset: 0, Priority: 100},
		demuxflac.New,
		format.MediaFormat{
			FormatID: "flac", DisplayName: "FLAC", Extensions: []string{".flac"},
			MIMETypes: []string{"audio/flac", "audio/x-flac"}, Priority: 100,
			SupportsStreaming: true, SupportsSeeking: true,
			Description: "Free Lossless Audio Codec, native framing",
		},
	)

	// ISO-BMFF boxes don't start with a fixed magic: the size+type header at
	// offset 0 names the first box (commonly "ftyp"), so the signature
	// matches "ftyp" at offset 4 the way every ISO-BMFF sniffer does.
	f.RegisterFormat(
		format.Signature{FormatID: "mp4", Pattern: []byte("ftyp"), Offset: 4, Priority: 100},
		mp4.New,
		format.MediaFormat{
			FormatID: "mp4", DisplayName: "MPEG-4 / M4A", Extensions: []string{".m4a", ".mp4", ".m4b"},
			MIMETypes: []string{"audio/mp4", "audio/x-m4a"}, Priority: 100,
			SupportsStreaming: false, SupportsSeeking: true,
			Description: "ISO Base Media File Format (MP4/M4A)",
		},
	)

	// MPEG audio frame sync (0xFFE mask) has no fixed byte value to match at
	// a known offset, so magic-byte detection relies on the ID3v2 header
	// most real .mp3 files carry; a second ExtOnly signature catches bare
	// elementary streams with no ID3v2 tag, by extension alone.
	mp3Format := format.MediaFormat{
		FormatID: "mp3", DisplayName: "MPEG Audio Layer III", Extensions: []string{".mp3"},
		MIMETypes: []string{"audio/mpeg", "audio/mp3"}, Priority: 90,
		SupportsStreaming: true, SupportsSeeking: true,
		Description: "Elementary-stream MP3 with optional ID3v2 tag",
	}
	f.RegisterFormat(
		format.Signature{FormatID: "mp3", Pattern: []byte("ID3"), Offset: 0, Priority: 90},
		demuxmp3.New, mp3Format,
	)
	f.RegisterFormat(
		format.Signature{FormatID: "mp3", ExtOnly: true, Priority: 0, Extensions: []string{".mp3"}},
		demuxmp3.New, mp3Format,
	)

	// Raw PCM carries no header at all; it only ever matches by extension,
	// so every extension DefaultConfigs knows about gets its own
	// ExtOnly signature, lowest priority, each bound to NewWithHint closed
	// over that one extension (rawpcm.New's real signature needs a Config
	// the uniform format.Factory shape has no room for).
	for ext := range rawpcm.DefaultConfigs {
		ext := ext
		f.RegisterFormat(
			format.Signature{FormatID: "rawpcm" + ext, ExtOnly: true, Priority: 0, Extensions: []string{ext}},
			func(src iosource.ByteSource) (any, error) { return rawpcm.NewWithHint(src, ext) },
			format.MediaFormat{
				FormatID: "rawpcm" + ext, DisplayName: "Raw PCM (" + ext + ")", Extensions: []string{ext},
				Priority: 0, SupportsStreaming: true, SupportsSeeking: false,
				Description: "Headerless raw audio, parameters inferred from extension",
			},
		)
	}
}

func registerBuiltinCodecs(f *Factory) {
	f.RegisterCodec("vorbis", func(any) codec.Codec { return vorbis.New() })
	f.RegisterCodec("opus", func(any) codec.Codec { return opus.New() })
	f.RegisterCodec("aac", func(any) codec.Codec { return aac.New() })
	f.RegisterCodec("alac", func(any) codec.Codec { return alac.New() })
	f.RegisterCodec("mp3", func(any) codec.Codec { return mp3.New() })

	// codec/flac is the one exception to the uniform New() shape: it shares
	// its demuxer's *mflac.Stream handle rather than decoding independent
	// chunk bytes (see demux/flac's package doc), so its factory needs a
	// codecflac.StreamProvider. Both demux/flac.Demuxer (native FLAC) and
	// demux/mp4.Demuxer (FLAC-in-MP4, via its synthetic stream) satisfy it.
	f.RegisterCodec("flac", func(demuxerAny any) codec.Codec {
		d, ok := demuxerAny.(codecflac.StreamProvider)
		if !ok {
			return nil
		}
		return codecflac.New(d)
	})

	for _, name := range []string{
		"pcm_s8", "pcm_u8",
		"pcm_s16le", "pcm_s16be", "pcm_s24le", "pcm_s24be", "pcm_s32le", "pcm_s32be",
		"pcm_f32le", "pcm_f32be", "pcm_f64le", "pcm_f64be",
		"ulaw", "alaw", "adpcm_ima", "adpcm_ms",
	} {
		f.RegisterCodec(name, func(any) codec.Codec { return pcm.New() })
	}
}

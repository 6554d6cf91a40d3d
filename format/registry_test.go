package format

import (
	"testing"

	"github.com/segin/psymp3-sub001/internal/testsource"
	"github.com/segin/psymp3-sub001/iosource"
)

func memSource(t *testing.T, data []byte) iosource.ByteSource {
	t.Helper()
	return testsource.New(data)
}

func TestProbeMagicBeatsExtension(t *testing.T) {
	r := New()
	r.Register(Signature{FormatID: "riff", Pattern: []byte("RIFF"), Offset: 0, Priority: 100}, nil, MediaFormat{FormatID: "riff"})
	r.Register(Signature{FormatID: "ogg", Pattern: []byte("OggS"), Offset: 0, Priority: 100}, nil, MediaFormat{FormatID: "ogg"})

	// Spec §8 Testable Property 8: a file whose bytes match RIFF but whose
	// extension claims .ogg must detect as RIFF.
	data := append([]byte("RIFF"), make([]byte, 60)...)
	src := memSource(t, data)

	id, ok := r.Probe(src, "stream.ogg")
	if !ok || id != "riff" {
		t.Fatalf("want riff (magic beats extension), got %q ok=%v", id, ok)
	}
}

func TestProbeFallsBackToExtensionOnly(t *testing.T) {
	r := New()
	r.Register(Signature{FormatID: "rawpcm", ExtOnly: true, Extensions: []string{".pcm", ".raw"}, Priority: 10},
		nil, MediaFormat{FormatID: "rawpcm"})

	data := make([]byte, 128)
	src := memSource(t, data)

	id, ok := r.Probe(src, "telephony.pcm")
	if !ok || id != "rawpcm" {
		t.Fatalf("want rawpcm via extension fallback, got %q ok=%v", id, ok)
	}
}

func TestProbeRestoresPosition(t *testing.T) {
	r := New()
	r.Register(Signature{FormatID: "flac", Pattern: []byte("fLaC"), Offset: 0, Priority: 100}, nil, MediaFormat{FormatID: "flac"})

	data := append([]byte("fLaC"), make([]byte, 128)...)
	src := memSource(t, data)
	src.Seek(4, iosource.SeekStart)

	r.Probe(src, "")
	if src.Tell() != 0 {
		t.Fatalf("want probe to seek back to 0, got %d", src.Tell())
	}
}

func TestProbeNoMatch(t *testing.T) {
	r := New()
	src := memSource(t, make([]byte, 64))
	if _, ok := r.Probe(src, "unknown.xyz"); ok {
		t.Fatalf("want no match for empty registry")
	}
}

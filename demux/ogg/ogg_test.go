package ogg

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/segin/psymp3-sub001/internal/testsource"
)

// buildPage constructs one raw Ogg page from a list of packets, splitting
// each into 255-byte lacing segments the way createOggPage in
// other_examples/640a1dd4_..._ogg_helper.go does. The checksum field is
// filled from crc32.MakeTable(0x04c11db7), which is Go's reflected CRC-32
// and not the Ogg page CRC; the demuxer does not verify page CRCs, so these
// tests do not depend on it.
func buildPage(t *testing.T, serial, pageSeq uint32, granule uint64, flags byte, packets [][]byte) []byte {
	t.Helper()
	var page []byte
	page = append(page, []byte("OggS")...)
	page = append(page, 0, flags)
	g := make([]byte, 8)
	binary.LittleEndian.PutUint64(g, granule)
	page = append(page, g...)
	s := make([]byte, 4)
	binary.LittleEndian.PutUint32(s, serial)
	page = append(page, s...)
	sq := make([]byte, 4)
	binary.LittleEndian.PutUint32(sq, pageSeq)
	page = append(page, sq...)
	checksumOffset := len(page)
	page = append(page, 0, 0, 0, 0)

	var segTable []byte
	var payload []byte
	for _, pkt := range packets {
		l := len(pkt)
		for l >= 255 {
			segTable = append(segTable, 255)
			l -= 255
		}
		segTable = append(segTable, byte(l))
		payload = append(payload, pkt...)
	}
	page = append(page, byte(len(segTable)))
	page = append(page, segTable...)
	page = append(page, payload...)

	table := crc32.MakeTable(0x04c11db7)
	crc := crc32.Checksum(page, table)
	binary.LittleEndian.PutUint32(page[checksumOffset:], crc)
	return page
}

func vorbisIdentPacket(sampleRate uint32, channels byte) []byte {
	pkt := make([]byte, 30)
	pkt[0] = 0x01
	copy(pkt[1:7], "vorbis")
	pkt[11] = channels
	binary.LittleEndian.PutUint32(pkt[12:16], sampleRate)
	pkt[29] = 1 // framing bit
	return pkt
}

func TestDemuxerRecognisesVorbisAndQueuesHeaders(t *testing.T) {
	ident := vorbisIdentPacket(44100, 2)
	comment := []byte("\x03vorbis\x00\x00\x00\x00\x01")
	setup := []byte("\x05vorbissetupblob")

	var data []byte
	data = append(data, buildPage(t, 1, 0, 0, headerBOS, [][]byte{ident})...)
	data = append(data, buildPage(t, 1, 1, 0, 0, [][]byte{comment, setup})...)

	src := testsource.New(data)
	demuxer, _ := New(src)
	dd := demuxer.(*Demuxer)

	if err := dd.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}
	if dd.codecName != "vorbis" {
		t.Fatalf("codecName = %q, want vorbis", dd.codecName)
	}
	if dd.sampleRate != 44100 || dd.channels != 2 {
		t.Fatalf("sampleRate/channels = %d/%d, want 44100/2", dd.sampleRate, dd.channels)
	}

	for i, want := range [][]byte{ident, comment, setup} {
		chunk, err := dd.ReadChunkOf(0)
		if err != nil {
			t.Fatalf("ReadChunkOf(%d): %v", i, err)
		}
		if string(chunk.Data) != string(want) {
			t.Fatalf("header packet %d = %q, want %q", i, chunk.Data, want)
		}
	}
}

func TestDemuxerReassemblesPacketAcrossLacingSegments(t *testing.T) {
	ident := vorbisIdentPacket(48000, 1)
	comment := []byte("\x03vorbis")
	setup := []byte("\x05vorbissetupblob")

	// An audio packet exactly 255 bytes long needs two lacing segments (255,
	// then a terminating 0) rather than one, exercising the "255 means keep
	// reading" continuation rule within nextPage.
	audio := make([]byte, 255)
	for i := range audio {
		audio[i] = byte(i)
	}

	var data []byte
	data = append(data, buildPage(t, 7, 0, 0, headerBOS, [][]byte{ident})...)
	data = append(data, buildPage(t, 7, 1, 0, 0, [][]byte{comment, setup})...)
	data = append(data, buildPage(t, 7, 2, 0, 0, [][]byte{audio})...)

	src := testsource.New(data)
	demuxer, _ := New(src)
	dd := demuxer.(*Demuxer)
	if err := dd.ParseContainer(); err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}

	// Drain the three header packets first.
	for i := 0; i < 3; i++ {
		if _, err := dd.ReadChunkOf(0); err != nil {
			t.Fatalf("drain header %d: %v", i, err)
		}
	}

	chunk, err := dd.ReadChunkOf(0)
	if err != nil {
		t.Fatalf("ReadChunkOf(audio): %v", err)
	}
	if len(chunk.Data) != len(audio) {
		t.Fatalf("audio packet length = %d, want %d", len(chunk.Data), len(audio))
	}
	for i := range audio {
		if chunk.Data[i] != audio[i] {
			t.Fatalf("audio packet byte %d mismatch", i)
		}
	}
}

func TestRecognise(t *testing.T) {
	cases := []struct {
		packet []byte
		want   string
	}{
		{append([]byte{0x01}, []byte("vorbis...")...), "vorbis"},
		{[]byte("OpusHead............"), "opus"},
		{append([]byte{0x7F}, []byte("FLAC....")...), "flac"},
		{[]byte("junk"), ""},
	}
	for _, c := range cases {
		if got := recognise(c.packet); got != c.want {
			t.Errorf("recognise(%q) = %q, want %q", c.packet, got, c.want)
		}
	}
}

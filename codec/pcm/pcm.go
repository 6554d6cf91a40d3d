// Package pcm implements the linear-PCM and logarithmic-PCM codec family
// (spec §4.5.5): byte-order/sign-convert passthrough for pcm_s16/24/32 and
// pcm_f32/f64 variants, plus G.711 mu-law/A-law and IMA/MS ADPCM expansion
// to signed 16-bit.
package pcm

import (
	"encoding/binary"
	"math"

	"github.com/segin/psymp3-sub001/codec"
	"github.com/segin/psymp3-sub001/mediatype"
)

// Codec decodes the "pcm_*", "ulaw", "alaw", "adpcm_ima" and "adpcm_ms"
// codec tokens. None of these have a decode library in the example pack
// (go-audio/wav and go-audio/aiff only describe the container-side format
// tag, not the sample transform itself), so the bit-exact, well-known
// public-domain algorithms (ITU-T G.711, IMA ADPCM reference algorithm,
// Microsoft ADPCM) are implemented directly against the standard library.
type Codec struct {
	codec.Base

	name     string
	channels int

	// ADPCM predictor state, one entry per channel.
	adpcmPredictor []int32
	adpcmIndex     []int32

	// MS ADPCM coefficient tables; Initialise sets the standard seven-entry
	// defaults and does not read them from CodecPrivate.
	msCoeff1 []int16
	msCoeff2 []int16
}

// New constructs an uninitialised PCM-family codec.
func New() *Codec { return &Codec{Base: codec.NewBase("pcm")} }

// CanDecode implements codec.Codec.
func (c *Codec) CanDecode(info mediatype.StreamInfo) bool {
	switch info.CodecName {
	case "pcm_s8", "pcm_u8",
		"pcm_s16le", "pcm_s16be", "pcm_s24le", "pcm_s24be", "pcm_s32le", "pcm_s32be",
		"pcm_f32le", "pcm_f32be", "pcm_f64le", "pcm_f64be",
		"ulaw", "alaw", "adpcm_ima", "adpcm_ms":
		return true
	default:
		return false
	}
}

// CodecName implements codec.Codec.
func (c *Codec) CodecName() string { return c.name }

// Initialise implements codec.Codec.
func (c *Codec) Initialise(info mediatype.StreamInfo) error {
	c.name = info.CodecName
	c.channels = int(info.Channels)
	if c.channels == 0 {
		c.channels = 1
	}
	c.adpcmPredictor = make([]int32, c.channels)
	c.adpcmIndex = make([]int32, c.channels)
	c.msCoeff1 = defaultMSCoeff1
	c.msCoeff2 = defaultMSCoeff2
	return nil
}

// Decode implements codec.Codec.
func (c *Codec) Decode(chunk mediatype.MediaChunk) (mediatype.AudioFrame, error) {
	if chunk.EOF() || len(chunk.Data) == 0 {
		return mediatype.AudioFrame{}, nil
	}

	var out []int16
	var err error
	switch c.name {
	case "pcm_s8":
		out = decodeS8(chunk.Data)
	case "pcm_u8":
		out = decodeU8(chunk.Data)
	case "pcm_s16le":
		out = decodeS16(chunk.Data, binary.LittleEndian)
	case "pcm_s16be":
		out = decodeS16(chunk.Data, binary.BigEndian)
	case "pcm_s24le":
		out = decodeS24(chunk.Data, true)
	case "pcm_s24be":
		out = decodeS24(chunk.Data, false)
	case "pcm_s32le":
		out = decodeS32(chunk.Data, binary.LittleEndian)
	case "pcm_s32be":
		out = decodeS32(chunk.Data, binary.BigEndian)
	case "pcm_f32le":
		out = decodeF32(chunk.Data, binary.LittleEndian)
	case "pcm_f32be":
		out = decodeF32(chunk.Data, binary.BigEndian)
	case "pcm_f64le":
		out = decodeF64(chunk.Data, binary.LittleEndian)
	case "pcm_f64be":
		out = decodeF64(chunk.Data, binary.BigEndian)
	case "ulaw":
		out = decodeULaw(chunk.Data)
	case "alaw":
		out = decodeALaw(chunk.Data)
	case "adpcm_ima":
		out, err = c.decodeIMAADPCM(chunk.Data)
	case "adpcm_ms":
		out, err = c.decodeMSADPCM(chunk.Data)
	default:
		return mediatype.AudioFrame{}, codec.NewError(c.name, codec.UnsupportedConfiguration, "decode", nil)
	}
	if err != nil {
		if exceeded := c.RecordFailure(); exceeded {
			return mediatype.AudioFrame{}, codec.NewError(c.name, codec.BadFrame, "decode", err)
		}
		return mediatype.AudioFrame{}, nil
	}
	if len(out) == 0 {
		return mediatype.AudioFrame{}, nil
	}

	sampleCount := len(out) / c.channels
	endSample := c.CurrentSample() + uint64(sampleCount)
	c.RecordSuccess(endSample)

	bitsPerSample := uint16(16)
	if c.name == "pcm_s8" || c.name == "pcm_u8" {
		bitsPerSample = 16 // widened on decode, same convention as demux/aiff's 8-bit path
	}

	return mediatype.AudioFrame{
		Samples:       out,
		Channels:      uint16(c.channels),
		BitsPerSample: bitsPerSample,
		SampleCount:   sampleCount,
		PTS:           endSample - uint64(sampleCount),
	}, nil
}

// Flush implements codec.Codec. None of these formats buffer samples.
func (c *Codec) Flush() (mediatype.AudioFrame, error) { return mediatype.AudioFrame{}, nil }

// Reset implements codec.Codec.
func (c *Codec) Reset() {
	c.ResetStats()
	for i := range c.adpcmPredictor {
		c.adpcmPredictor[i] = 0
		c.adpcmIndex[i] = 0
	}
}

// SupportsSeekReset implements codec.Codec.
func (c *Codec) SupportsSeekReset() bool { return true }

func decodeS8(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = int16(int8(b)) * 256
	}
	return out
}

func decodeU8(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = (int16(b) - 128) * 256
	}
	return out
}

func decodeS16(data []byte, order binary.ByteOrder) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(order.Uint16(data[i*2:]))
	}
	return out
}

func decodeS24(data []byte, little bool) []int16 {
	n := len(data) / 3
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		b := data[i*3 : i*3+3]
		var v int32
		if little {
			v = int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		} else {
			v = int32(b[2]) | int32(b[1])<<8 | int32(b[0])<<16
		}
		if v&0x800000 != 0 {
			v |= -0x1000000 // sign-extend 24 -> 32
		}
		out[i] = int16(v >> 8) // top 16 bits
	}
	return out
}

func decodeS32(data []byte, order binary.ByteOrder) []int16 {
	n := len(data) / 4
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		v := int32(order.Uint32(data[i*4:]))
		out[i] = int16(v >> 16)
	}
	return out
}

func decodeF32(data []byte, order binary.ByteOrder) []int16 {
	n := len(data) / 4
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		bits := order.Uint32(data[i*4:])
		out[i] = floatToI16(float64(math.Float32frombits(bits)))
	}
	return out
}

func decodeF64(data []byte, order binary.ByteOrder) []int16 {
	n := len(data) / 8
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		bits := order.Uint64(data[i*8:])
		out[i] = floatToI16(math.Float64frombits(bits))
	}
	return out
}

func floatToI16(v float64) int16 {
	v *= 32767.0
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// decodeULaw implements ITU-T G.711 mu-law expansion (RFC 7655 table).
func decodeULaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = ulawToLinear(b)
	}
	return out
}

func ulawToLinear(ulaw byte) int16 {
	const bias = 0x84
	u := ^ulaw
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int32(mantissa) << 3) + bias
	sample <<= exponent
	sample -= bias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// decodeALaw implements ITU-T G.711 A-law expansion.
func decodeALaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = alawToLinear(b)
	}
	return out
}

func alawToLinear(alaw byte) int16 {
	a := alaw ^ 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0F
	var sample int32
	if exponent == 0 {
		sample = (int32(mantissa) << 4) + 8
	} else {
		sample = ((int32(mantissa) << 4) + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}

var imaIndexTable = [16]int32{-1, -1, -1, -1, 2, 4, 6, 8, -1, -1, -1, -1, 2, 4, 6, 8}

var imaStepTable = [89]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143, 157, 173, 190, 209, 230,
	253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658, 724, 796, 876, 963,
	1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493,
	10442, 11487, 12635, 13899, 15289, 16818, 18500, 20350, 22385, 24623,
	27086, 29794, 32767,
}

// decodeIMAADPCM expands data as a single IMA ADPCM block (beginning with a
// per-channel 4-byte preamble: predictor i16, step index byte, reserved
// byte) to interleaved i16 PCM. Data holding several blocks is not split at
// block boundaries: only the first preamble is read, and every later byte is
// decoded as nibble data.
func (c *Codec) decodeIMAADPCM(data []byte) ([]int16, error) {
	preambleLen := 4 * c.channels
	if len(data) < preambleLen {
		return nil, errShortIMABlock
	}
	for ch := 0; ch < c.channels; ch++ {
		p := data[ch*4 : ch*4+4]
		c.adpcmPredictor[ch] = int32(int16(binary.LittleEndian.Uint16(p[0:2])))
		c.adpcmIndex[ch] = int32(p[2])
		if c.adpcmIndex[ch] < 0 {
			c.adpcmIndex[ch] = 0
		}
		if c.adpcmIndex[ch] > 88 {
			c.adpcmIndex[ch] = 88
		}
	}

	body := data[preambleLen:]
	// IMA ADPCM packs nibbles in 4-byte (per channel) groups of 8 samples.
	var out []int16
	for ch := 0; ch < c.channels; ch++ {
		out = append(out, int16(c.adpcmPredictor[ch]))
	}

	groupBytes := 4 * c.channels
	for off := 0; off+groupBytes <= len(body); off += groupBytes {
		for ch := 0; ch < c.channels; ch++ {
			chunk := body[off+ch*4 : off+ch*4+4]
			for _, b := range chunk {
				out = append(out, c.imaStep(ch, b&0x0F))
				out = append(out, c.imaStep(ch, b>>4))
			}
		}
	}
	return out, nil
}

func (c *Codec) imaStep(ch int, nibble byte) int16 {
	step := imaStepTable[c.adpcmIndex[ch]]
	diff := step >> 3
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&8 != 0 {
		diff = -diff
	}
	sample := c.adpcmPredictor[ch] + diff
	switch {
	case sample > 32767:
		sample = 32767
	case sample < -32768:
		sample = -32768
	}
	c.adpcmPredictor[ch] = sample

	c.adpcmIndex[ch] += imaIndexTable[nibble]
	switch {
	case c.adpcmIndex[ch] < 0:
		c.adpcmIndex[ch] = 0
	case c.adpcmIndex[ch] > 88:
		c.adpcmIndex[ch] = 88
	}
	return int16(sample)
}

var defaultMSCoeff1 = []int16{256, 512, 0, 192, 240, 460, 392}
var defaultMSCoeff2 = []int16{0, -256, 0, 64, 0, -208, -232}

var msAdaptTable = []int32{
	230, 230, 230, 230, 307, 409, 512, 614,
	768, 614, 512, 409, 307, 230, 230, 230,
}

// decodeMSADPCM expands one Microsoft ADPCM block per call (each block
// begins with a 7-byte-per-channel header: predictor index, delta i16,
// sample1 i16, sample2 i16).
func (c *Codec) decodeMSADPCM(data []byte) ([]int16, error) {
	headerLen := 7 * c.channels
	if len(data) < headerLen {
		return nil, errShortMSBlock
	}

	type chState struct {
		coeff1, coeff2 int32
		delta          int32
		sample1        int32
		sample2        int32
	}
	st := make([]chState, c.channels)
	for ch := 0; ch < c.channels; ch++ {
		h := data[ch*7 : ch*7+7]
		predictor := int(h[0])
		if predictor >= len(c.msCoeff1) {
			predictor = 0
		}
		st[ch].coeff1 = int32(c.msCoeff1[predictor])
		st[ch].coeff2 = int32(c.msCoeff2[predictor])
		st[ch].delta = int32(int16(binary.LittleEndian.Uint16(h[1:3])))
		st[ch].sample1 = int32(int16(binary.LittleEndian.Uint16(h[3:5])))
		st[ch].sample2 = int32(int16(binary.LittleEndian.Uint16(h[5:7])))
	}

	var out []int16
	for ch := 0; ch < c.channels; ch++ {
		out = append(out, int16(st[ch].sample2))
	}
	for ch := 0; ch < c.channels; ch++ {
		out = append(out, int16(st[ch].sample1))
	}

	body := data[headerLen:]
	for _, b := range body {
		for _, nibble := range [2]byte{b >> 4, b & 0x0F} {
			ch := len(out) % c.channels
			s := &st[ch]
			predicted := (s.sample1*s.coeff1 + s.sample2*s.coeff2) >> 8
			signed := int32(int8(nibble << 4)) >> 4 // sign-extend low nibble
			predicted += signed * s.delta

			switch {
			case predicted > 32767:
				predicted = 32767
			case predicted < -32768:
				predicted = -32768
			}

			s.delta = (msAdaptTable[nibble] * s.delta) >> 8
			if s.delta < 16 {
				s.delta = 16
			}
			s.sample2 = s.sample1
			s.sample1 = predicted
			out = append(out, int16(predicted))
		}
	}
	return out, nil
}

var errShortIMABlock = codec.NewError("adpcm_ima", codec.BadFrame, "decode", nil)
var errShortMSBlock = codec.NewError("adpcm_ms", codec.BadFrame, "decode", nil)

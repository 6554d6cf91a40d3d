// Package testsource provides a minimal in-memory iosource.ByteSource used
// across the demux/codec/format test suites that need a seekable source
// without touching the filesystem or network.
package testsource

import "github.com/segin/psymp3-sub001/iosource"

// Mem is a byte-slice-backed ByteSource.
type Mem struct {
	data []byte
	pos  int64
}

// New wraps data as a ByteSource.
func New(data []byte) *Mem {
	return &Mem{data: data}
}

func (m *Mem) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *Mem) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case iosource.SeekStart:
		m.pos = offset
	case iosource.SeekCurrent:
		m.pos += offset
	case iosource.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	if m.pos < 0 {
		m.pos = 0
	}
	return m.pos, nil
}

func (m *Mem) Tell() int64         { return m.pos }
func (m *Mem) Size() (int64, bool) { return int64(len(m.data)), true }
func (m *Mem) EOF() bool           { return m.pos >= int64(len(m.data)) }
func (m *Mem) Close() error        { return nil }
func (m *Mem) LastError() error    { return nil }

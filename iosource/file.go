package iosource

import (
	"io"
	"os"
	"sync"
)

// FileByteSource opens a path and serves it as a ByteSource. Offsets are
// 64-bit on all platforms; path separator conventions are whatever the
// host os.Open accepts.
type FileByteSource struct {
	mu        sync.Mutex
	statMu    sync.Mutex
	f         *os.File
	pos       int64
	size      int64
	eof       bool
	closed    bool
	lastError error
}

// OpenFile opens path for reading and wraps it in a ByteSource.
func OpenFile(path string) (*FileByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		kind := KindIO
		switch {
		case os.IsNotExist(err):
			kind = KindNotFound
		case os.IsPermission(err):
			kind = KindPermissionDenied
		}
		return nil, newErr("file", "open", kind, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr("file", "stat", KindIO, err)
	}

	return &FileByteSource{f: f, size: info.Size()}, nil
}

func (s *FileByteSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.lastError = newErr("file", "read", KindClosed, ErrClosed)
		return 0, nil
	}

	n, err := s.f.ReadAt(p, s.pos)
	s.pos += int64(n)
	if err != nil && err != io.EOF {
		s.lastError = newErr("file", "read", KindIO, err)
		return n, nil
	}
	if err == io.EOF || s.pos >= s.size {
		s.eof = true
	}
	return n, nil
}

func (s *FileByteSource) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.lastError = newErr("file", "seek", KindClosed, ErrClosed)
		return s.pos, s.lastError
	}

	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = s.pos + offset
	case SeekEnd:
		target = s.size + offset
	default:
		err := newErr("file", "seek", KindInvalidArgument, nil)
		s.lastError = err
		return s.pos, err
	}
	if target < 0 {
		err := newErr("file", "seek", KindInvalidArgument, nil)
		s.lastError = err
		return s.pos, err
	}

	s.pos = target
	s.eof = s.pos >= s.size
	return s.pos, nil
}

func (s *FileByteSource) Tell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *FileByteSource) Size() (int64, bool) {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	return s.size, true
}

func (s *FileByteSource) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *FileByteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func (s *FileByteSource) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

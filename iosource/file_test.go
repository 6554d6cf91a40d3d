package iosource

import (
	"os"
	"testing"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "iosource-*.bin")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}

func TestFileByteSourceSeekTellInvariant(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	pos, err := src.Seek(100, SeekStart)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != 100 || src.Tell() != 100 {
		t.Fatalf("want tell()==100, got seek=%d tell=%d", pos, src.Tell())
	}

	buf := make([]byte, 10)
	n, _ := src.Read(buf)
	if n != 10 {
		t.Fatalf("want 10 bytes read, got %d", n)
	}
	for i, b := range buf {
		if b != data[100+i] {
			t.Fatalf("byte %d: want %d got %d", i, data[100+i], b)
		}
	}
}

func TestFileByteSourceReadPastEndIsShortNotFault(t *testing.T) {
	path := writeTempFile(t, []byte("hello"))
	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	src.Seek(0, SeekEnd)
	buf := make([]byte, 16)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("want nil error on short read at EOF, got %v", err)
	}
	if n != 0 {
		t.Fatalf("want 0 bytes past end, got %d", n)
	}
	if !src.EOF() {
		t.Fatalf("want EOF() true")
	}
}

func TestFileByteSourceClosedOperationsFail(t *testing.T) {
	path := writeTempFile(t, []byte("hello world"))
	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 4)
	n, err := src.Read(buf)
	if n != 0 || err != nil {
		t.Fatalf("want (0, nil) from Read on closed source, got (%d, %v)", n, err)
	}
	if src.LastError() == nil {
		t.Fatalf("want LastError set after operating on closed source")
	}

	if _, err := src.Seek(0, SeekStart); err == nil {
		t.Fatalf("want error seeking a closed source")
	}
}

func TestFileByteSourceNotFound(t *testing.T) {
	_, err := OpenFile("/nonexistent/path/does-not-exist.bin")
	if err == nil {
		t.Fatalf("want error opening nonexistent file")
	}
	var ioErr *Error
	if !asError(err, &ioErr) {
		t.Fatalf("want *iosource.Error, got %T", err)
	}
	if ioErr.Kind != KindNotFound {
		t.Fatalf("want KindNotFound, got %v", ioErr.Kind)
	}
}

func asError(err error, target **Error) bool {
	for e := err; e != nil; {
		if ie, ok := e.(*Error); ok {
			*target = ie
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

package iosource

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultRingBufferSize = 256 * 1024
	maxRedirects          = 10
)

// HTTPByteSource presents the ByteSource contract over an HTTP(S) URL,
// using Range requests to emulate seeking. Lazy initialisation defers the
// first network request until the first Read or Seek call (spec §4.1,
// "Lazy initialisation"); Size reports (0, false) until then.
type HTTPByteSource struct {
	mu     sync.Mutex
	statMu sync.Mutex

	url        string
	client     *http.Client
	timeout    time.Duration
	canceller  Canceller

	initialised   bool
	acceptsRanges bool
	size          int64
	sizeKnown     bool
	contentType   string
	icyMetaInt    int

	body    io.ReadCloser
	pos     int64 // stream position of the next byte body will yield
	readPos int64 // requested read position
	eof     bool
	closed  bool

	ring      []byte // small forward re-read buffer
	ringStart int64
	ringLen   int

	lastError error
	bytesHeld int64
}

// HTTPOption configures an HTTPByteSource at construction.
type HTTPOption func(*HTTPByteSource)

// WithTimeout sets the per-request network timeout (spec §6,
// network_timeout_ms).
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPByteSource) { s.timeout = d }
}

// WithCanceller attaches a cooperative cancellation handle (spec §5).
func WithCanceller(c Canceller) HTTPOption {
	return func(s *HTTPByteSource) { s.canceller = c }
}

// OpenHTTP constructs an HTTPByteSource for rawURL. No network request is
// made until the first I/O call.
func OpenHTTP(rawURL string, opts ...HTTPOption) *HTTPByteSource {
	s := &HTTPByteSource{
		url:     rawURL,
		client:  &http.Client{},
		timeout: 10 * time.Second,
		ring:    make([]byte, defaultRingBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentType returns the response Content-Type header, if known (must be
// called after the first Read or Seek).
func (s *HTTPByteSource) ContentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

// ICYMetaInterval returns the Icecast "icy-metaint" byte interval, or 0 if
// the server did not advertise one.
func (s *HTTPByteSource) ICYMetaInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.icyMetaInt
}

func (s *HTTPByteSource) ensureInit() error {
	if s.initialised {
		return nil
	}
	return s.openRange(0, -1)
}

// openRange issues a GET with an optional Range header. length < 0 means
// "to EOF". Redirects are followed up to maxRedirects.
func (s *HTTPByteSource) openRange(start int64, length int64) error {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}

	req, err := http.NewRequest(http.MethodGet, s.url, nil)
	if err != nil {
		return newErr("http", "open", KindInvalidArgument, err)
	}
	req.Header.Set("User-Agent", "psymp3-sub001")
	req.Header.Set("Icy-MetaData", "1")
	if start > 0 || length >= 0 {
		if length >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	client := s.client
	if client.CheckRedirect == nil {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}
	client.Timeout = s.timeout

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return newErr("http", "open", KindNetworkTimeout, err)
		}
		return newErr("http", "open", KindNetworkProtocol, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return newErr("http", "open", KindRangeNotSatisfiable, fmt.Errorf("status %d", resp.StatusCode))
	case http.StatusNotFound:
		resp.Body.Close()
		return newErr("http", "open", KindNotFound, fmt.Errorf("status %d", resp.StatusCode))
	case http.StatusForbidden, http.StatusUnauthorized:
		resp.Body.Close()
		return newErr("http", "open", KindPermissionDenied, fmt.Errorf("status %d", resp.StatusCode))
	default:
		resp.Body.Close()
		return newErr("http", "open", KindNetworkProtocol, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	s.acceptsRanges = resp.StatusCode == http.StatusPartialContent ||
		strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	s.contentType = resp.Header.Get("Content-Type")
	if v := resp.Header.Get("icy-metaint"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.icyMetaInt = n
		}
	}

	if !s.sizeKnown {
		if cl := contentRangeTotal(resp.Header.Get("Content-Range")); cl >= 0 {
			s.size = cl
			s.sizeKnown = true
		} else if resp.ContentLength >= 0 && start == 0 {
			s.size = resp.ContentLength
			s.sizeKnown = true
		}
	}

	s.body = resp.Body
	s.pos = start
	s.initialised = true
	return nil
}

func contentRangeTotal(v string) int64 {
	// Format: "bytes start-end/total"
	idx := strings.LastIndex(v, "/")
	if idx < 0 || idx+1 >= len(v) {
		return -1
	}
	total := v[idx+1:]
	if total == "*" {
		return -1
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if te, ok := e.(timeouter); ok {
			t = te
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return t != nil && t.Timeout()
}

func (s *HTTPByteSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.lastError = newErr("http", "read", KindClosed, ErrClosed)
		return 0, nil
	}
	if s.canceller != nil && s.canceller.Cancelled() {
		s.lastError = newErr("http", "read", KindCancelled, nil)
		return 0, nil
	}

	if n, ok := s.drainRing(p); ok {
		return n, nil
	}

	if err := s.ensureInit(); err != nil {
		s.lastError = err
		return 0, nil
	}

	if s.readPos != s.pos {
		// A seek moved the requested position away from the open body's
		// position; alignTo reopens the stream there.
		if err := s.alignTo(s.readPos); err != nil {
			s.lastError = err
			return 0, nil
		}
	}

	n, err := s.body.Read(p)
	s.pos += int64(n)
	s.readPos = s.pos
	s.bytesHeld = int64(n)
	if err != nil && err != io.EOF {
		s.lastError = newErr("http", "read", KindIO, err)
		return n, nil
	}
	if err == io.EOF || (s.sizeKnown && s.pos >= s.size) {
		s.eof = true
	}
	return n, nil
}

// alignTo repositions the stream to serve reads starting at target by
// issuing a fresh Range request; the ring buffer is not used here, so every
// jump, however small, reopens the body.
func (s *HTTPByteSource) alignTo(target int64) error {
	if target == s.pos {
		return nil
	}
	if !s.acceptsRanges {
		if target > s.pos {
			return newErr("http", "seek", KindInvalidArgument,
				fmt.Errorf("server does not support range requests; cannot seek forward past read frontier"))
		}
	}
	if err := s.openRange(target, -1); err != nil {
		return err
	}
	s.readPos = target
	return nil
}

func (s *HTTPByteSource) drainRing(p []byte) (int, bool) {
	if s.ringLen == 0 {
		return 0, false
	}
	n := copy(p, s.ring[:s.ringLen])
	s.ring = s.ring[n:]
	s.ringLen -= n
	return n, n > 0
}

func (s *HTTPByteSource) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		err := newErr("http", "seek", KindClosed, ErrClosed)
		s.lastError = err
		return s.readPos, err
	}
	if err := s.ensureInit(); err != nil {
		s.lastError = err
		return s.readPos, err
	}

	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = s.readPos + offset
	case SeekEnd:
		if !s.sizeKnown {
			err := newErr("http", "seek", KindInvalidArgument, fmt.Errorf("size unknown"))
			s.lastError = err
			return s.readPos, err
		}
		target = s.size + offset
	default:
		err := newErr("http", "seek", KindInvalidArgument, nil)
		s.lastError = err
		return s.readPos, err
	}
	if target < 0 {
		err := newErr("http", "seek", KindInvalidArgument, nil)
		s.lastError = err
		return s.readPos, err
	}
	if target > s.pos && !s.acceptsRanges {
		err := newErr("http", "seek", KindInvalidArgument,
			fmt.Errorf("server does not support range requests; cannot seek beyond read frontier"))
		s.lastError = err
		return s.readPos, err
	}

	s.readPos = target
	s.eof = s.sizeKnown && s.readPos >= s.size
	return s.readPos, nil
}

func (s *HTTPByteSource) Tell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPos
}

func (s *HTTPByteSource) Size() (int64, bool) {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	s.mu.Lock()
	known := s.sizeKnown
	size := s.size
	s.mu.Unlock()
	return size, known
}

func (s *HTTPByteSource) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *HTTPByteSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}

func (s *HTTPByteSource) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// BytesHeld implements MemoryStats.
func (s *HTTPByteSource) BytesHeld() int64 {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	return s.bytesHeld
}

// Package http provides an archive ByteSource backed by HTTP range requests.
//
// A Source lets an archive served over HTTP be listed and read without
// downloading it: the header is fetched with a few small range requests and
// file content is read on demand.
//
//	src, err := http.NewSource("https://example.com/app.asar")
//	if err != nil {
//	    return err
//	}
//	archive, err := asar.Open(src)
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
)

// ErrRangeUnsupported is returned when the server ignores range requests.
var ErrRangeUnsupported = errors.New("range requests not supported")

// Source implements random access reads via HTTP range requests.
// It satisfies asar.ByteSource (io.ReaderAt plus Size) and asar.RangeReader,
// and is safe for concurrent use.
type Source struct {
	ctx                   context.Context
	url                   string
	client                *nethttp.Client
	headers               nethttp.Header
	size                  int64
	etag                  string
	lastModified          string
	useConditionalHeaders bool
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithContext sets the context attached to every request, including the
// reads issued through ReadAt.
func WithContext(ctx context.Context) Option {
	return func(s *Source) {
		s.ctx = ctx
	}
}

// WithConditionalHeaders enables conditional range reads using ETag or
// Last-Modified, so a remote archive replaced mid-read is detected. A server
// rejecting the condition with 412 is retried once unconditionally.
func WithConditionalHeaders() Option {
	return func(s *Source) {
		s.useConditionalHeaders = true
	}
}

// NewSource creates a Source backed by HTTP range requests.
// It queries the remote to determine the content size.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{
		ctx:    context.Background(),
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}

	info, err := s.stat()
	if err != nil {
		return nil, err
	}
	s.size = info.size
	s.etag = info.etag
	s.lastModified = info.lastModified
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 {
	return s.size
}

// URL returns the remote location.
func (s *Source) URL() string {
	return s.url
}

// ReadAt reads len(p) bytes from the remote at the given offset using HTTP
// range requests. It implements [io.ReaderAt]. If fewer bytes are available
// than requested, it returns the number of bytes read along with io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	expected := min(int64(len(p)), s.size-off)
	resp, err := s.fetch(off, expected)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	n, err := io.ReadFull(resp.Body, p[:expected])
	if err != nil {
		return n, err
	}
	if expected < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// ReadRange streams length bytes starting at off with a single range
// request. Sequential consumers such as extraction use it instead of
// issuing one request per ReadAt buffer. The range is clipped to the
// content size; an offset at or past the end returns io.EOF. The caller
// must close the reader to release the connection.
func (s *Source) ReadRange(off, length int64) (io.ReadCloser, error) {
	if length < 0 {
		return nil, fmt.Errorf("read range length %d: negative length", length)
	}
	if off < 0 {
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if off >= s.size {
		return nil, io.EOF
	}

	length = min(length, s.size-off)
	resp, err := s.fetch(off, length)
	if err != nil {
		return nil, err
	}
	return &rangeBody{body: resp.Body, remaining: length}, nil
}

// fetch issues a range request for [off, off+length) and returns the 206
// response. A conditional request rejected with 412 is retried once
// without conditions.
func (s *Source) fetch(off, length int64) (*nethttp.Response, error) {
	end := off + length - 1
	resp, err := s.rangeRequest(off, end, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && s.hasConditionalHeaders() {
		drain(resp)
		resp, err = s.rangeRequest(off, end, false)
		if err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return resp, nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		drain(resp)
		return nil, io.EOF
	case nethttp.StatusOK:
		drain(resp)
		return nil, ErrRangeUnsupported
	default:
		err := statusError("range request", resp)
		drain(resp)
		return nil, err
	}
}

// rangeBody yields exactly remaining bytes of a range response. A body
// ending early reports io.ErrUnexpectedEOF.
type rangeBody struct {
	body      io.ReadCloser
	remaining int64
}

func (r *rangeBody) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.body.Read(p)
	r.remaining -= int64(n)
	if errors.Is(err, io.EOF) && r.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	if err == nil && r.remaining == 0 {
		err = io.EOF
	}
	return n, err
}

func (r *rangeBody) Close() error {
	return r.body.Close()
}

// remoteInfo describes the remote archive as reported by the server.
type remoteInfo struct {
	size         int64
	etag         string
	lastModified string
}

// validators copies the cache validators of resp into info, keeping values
// already set.
func (info *remoteInfo) validators(resp *nethttp.Response) {
	if info.etag == "" {
		info.etag = resp.Header.Get("ETag")
	}
	if info.lastModified == "" {
		info.lastModified = resp.Header.Get("Last-Modified")
	}
}

// stat determines the archive size and cache validators. A HEAD request
// is tried first; a one-byte range request then confirms range support and
// provides the authoritative size.
func (s *Source) stat() (remoteInfo, error) {
	var info remoteInfo
	headSize := int64(-1)
	if resp, err := s.doHead(); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			headSize = resp.ContentLength
			info.validators(resp)
		}
		drain(resp)
	}

	resp, err := s.rangeRequest(0, 0, false)
	if err != nil {
		return remoteInfo{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return remoteInfo{}, ErrRangeUnsupported
	default:
		return remoteInfo{}, statusError("range check", resp)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return remoteInfo{}, err
	}
	if headSize > 0 && headSize != size {
		return remoteInfo{}, fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	info.size = size
	info.validators(resp)
	return info, nil
}

func (s *Source) doHead() (*nethttp.Response, error) {
	req, err := s.newRequest(nethttp.MethodHead, false)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func (s *Source) rangeRequest(start, end int64, conditional bool) (*nethttp.Response, error) {
	req, err := s.newRequest(nethttp.MethodGet, conditional)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	return s.client.Do(req)
}

func (s *Source) newRequest(method string, conditional bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if conditional && s.useConditionalHeaders {
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return req, nil
}

func (s *Source) hasConditionalHeaders() bool {
	return s.useConditionalHeaders && (s.etag != "" || s.lastModified != "")
}

// drain reads and closes the body so the connection can be reused.
func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
	_ = resp.Body.Close()                 //nolint:errcheck // best-effort cleanup
}

// statusError maps an unexpected response to an error carrying the
// matching errdefs class.
func statusError(op string, resp *nethttp.Response) error {
	var class error
	switch resp.StatusCode {
	case nethttp.StatusNotFound, nethttp.StatusGone:
		class = errdefs.ErrNotFound
	case nethttp.StatusUnauthorized:
		class = errdefs.ErrUnauthenticated
	case nethttp.StatusForbidden:
		class = errdefs.ErrPermissionDenied
	case nethttp.StatusPreconditionFailed:
		class = errdefs.ErrFailedPrecondition
	case nethttp.StatusTooManyRequests, nethttp.StatusServiceUnavailable:
		class = errdefs.ErrUnavailable
	default:
		return fmt.Errorf("%s failed: %s", op, resp.Status)
	}
	return fmt.Errorf("%s failed: %s: %w", op, resp.Status, class)
}

// parseContentRange extracts the complete length from a Content-Range
// value such as "bytes 0-0/1234".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

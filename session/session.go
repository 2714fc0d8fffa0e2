// Package session provides the HTTP session used to talk to package
// repositories.
//
// Every request carries a descriptive User-Agent and a JSON system header.
// Cookies are kept in a jar persisted as cookies.txt in the data path.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// SystemHeader carries the JSON encoded SystemInfo.
const SystemHeader = "X-Parcel-System"

// ErrInvalidDataPath is returned when the data path is not an existing directory.
var ErrInvalidDataPath = errors.New("parcel: invalid data path")

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("parcel: %s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the underlying client. The client is copied and its
// jar replaced by the session jar.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			s.base = client
		}
	}
}

// WithLogger sets the logger used for requests.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSystemInfo replaces the collected system information.
func WithSystemInfo(info SystemInfo) Option {
	return func(s *Session) {
		s.info = &info
	}
}

// Session is an HTTP client bound to an application and a data path.
type Session struct {
	base   *http.Client
	client *http.Client
	jar    *Jar
	logger *slog.Logger
	info   *SystemInfo

	userAgent string
	system    string
}

// New creates a session for the application. dataPath must be an existing
// directory; cookies are loaded from it.
func New(appName, appVersion, dataPath string, opts ...Option) (*Session, error) {
	s := &Session{
		base:   http.DefaultClient,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	info, err := os.Stat(dataPath)
	if dataPath == "" || err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataPath, dataPath)
	}

	jar, err := NewJar(filepath.Join(dataPath, CookiesFilename))
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	s.jar = jar

	client := *s.base
	client.Jar = jar
	s.client = &client

	if s.info == nil {
		collected := CollectSystemInfo(context.Background(), appName, appVersion)
		s.info = &collected
	}
	system, err := json.Marshal(s.info)
	if err != nil {
		return nil, err
	}
	s.system = string(system)
	s.userAgent = s.info.UserAgent()
	return s, nil
}

// UserAgent returns the User-Agent sent with every request.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// Jar returns the session cookie jar.
func (s *Session) Jar() *Jar {
	return s.jar
}

// Do sends req with the session headers and cookies.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(SystemHeader, s.system)
	s.logger.Debug("request", slog.String("method", req.Method), slog.String("url", req.URL.String()))
	return s.client.Do(req)
}

func (s *Session) send(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if sized, ok := body.(interface{ Size() int64 }); ok && req.ContentLength == 0 {
		req.ContentLength = sized.Size()
		if req.ContentLength == 0 {
			req.Body = http.NoBody
		}
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &StatusError{Method: method, URL: url, Code: resp.StatusCode}
	}
	return resp, nil
}

// GetJSON fetches url and decodes the JSON body into v. It returns the
// response headers.
func (s *Session) GetJSON(ctx context.Context, url string, v any) (http.Header, error) {
	resp, err := s.send(ctx, http.MethodGet, url, nil, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.Header, nil
}

// Head returns the response headers of a HEAD request.
func (s *Session) Head(ctx context.Context, url string) (http.Header, error) {
	resp, err := s.send(ctx, http.MethodHead, url, nil, nil)
	if err != nil {
		return nil, err
	}
	drain(resp)
	return resp.Header, nil
}

// Put uploads body to url and returns the response status code.
func (s *Session) Put(ctx context.Context, url string, body io.Reader, header http.Header) (int, error) {
	resp, err := s.send(ctx, http.MethodPut, url, body, header)
	if err != nil {
		return 0, err
	}
	drain(resp)
	return resp.StatusCode, nil
}

// Close saves the cookie jar.
func (s *Session) Close() error {
	return s.jar.Save()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
	_ = resp.Body.Close()
}

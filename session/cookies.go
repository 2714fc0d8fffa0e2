package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/meigma/parcel/internal/fsutil"
)

// CookiesFilename is the cookie file kept in the data path.
const CookiesFilename = "cookies.txt"

const (
	mozillaHeader  = "# Netscape HTTP Cookie File"
	httpOnlyPrefix = "#HttpOnly_"
)

type cookieKey struct {
	domain, path, name string
}

type storedCookie struct {
	cookie     *http.Cookie
	domain     string
	subdomains bool
}

// Jar is a public suffix aware cookie jar persisted in the Mozilla
// cookies.txt format. Only cookies with an expiry are saved.
type Jar struct {
	path  string
	now   func() time.Time
	inner *cookiejar.Jar

	mu     sync.Mutex
	stored map[cookieKey]storedCookie
}

// NewJar creates a jar backed by the file at path and loads it if present.
func NewJar(path string) (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	j := &Jar{
		path:   path,
		now:    time.Now,
		inner:  inner,
		stored: make(map[cookieKey]storedCookie),
	}
	if err := j.Load(); err != nil {
		return nil, err
	}
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, c := range cookies {
		domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		subdomains := domain != ""
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" || !strings.HasPrefix(path, "/") {
			path = "/"
		}
		key := cookieKey{domain: domain, path: path, name: c.Name}

		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			delete(j.stored, key)
			continue
		}
		stored := *c
		stored.Path = path
		stored.Expires = expires
		j.stored[key] = storedCookie{cookie: &stored, domain: domain, subdomains: subdomains}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Load reads the cookie file. A missing file is not an error.
func (j *Jar) Load() error {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	now := j.now()
	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimRight(sc.Text(), "\r")
		httpOnly := false
		if rest, ok := strings.CutPrefix(line, httpOnlyPrefix); ok {
			line = rest
			httpOnly = true
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			return fmt.Errorf("parse %s:%d: expected 7 fields, got %d", j.path, lineNo, len(fields))
		}
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s:%d: expiry: %w", j.path, lineNo, err)
		}
		expires := time.Unix(expiry, 0)
		if expiry == 0 || !expires.After(now) {
			continue
		}

		domain := fields[0]
		subdomains := fields[1] == "TRUE"
		host := strings.TrimPrefix(domain, ".")
		secure := fields[3] == "TRUE"
		c := &http.Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Path:     fields[2],
			Expires:  expires,
			Secure:   secure,
			HttpOnly: httpOnly,
		}
		if subdomains {
			c.Domain = host
		}
		scheme := "http"
		if secure {
			scheme = "https"
		}
		j.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: c.Path}, []*http.Cookie{c})
	}
	return sc.Err()
}

// Save writes the persistent cookies atomically.
func (j *Jar) Save() error {
	j.mu.Lock()
	keys := make([]cookieKey, 0, len(j.stored))
	for k := range j.stored {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b cookieKey) int {
		return strings.Compare(a.domain+"\x00"+a.path+"\x00"+a.name, b.domain+"\x00"+b.path+"\x00"+b.name)
	})

	var buf bytes.Buffer
	buf.WriteString(mozillaHeader + "\n")
	now := j.now()
	for _, k := range keys {
		s := j.stored[k]
		c := s.cookie
		if c.Expires.IsZero() || !c.Expires.After(now) {
			continue
		}
		domain := s.domain
		if s.subdomains {
			domain = "." + domain
		}
		if c.HttpOnly {
			domain = httpOnlyPrefix + domain
		}
		fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			domain, boolField(s.subdomains), c.Path, boolField(c.Secure),
			c.Expires.Unix(), c.Name, c.Value)
	}
	j.mu.Unlock()

	return fsutil.WriteFileAtomic(j.path, buf.Bytes())
}

func boolField(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

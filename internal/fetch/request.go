package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the request mode a browser attaches to a fetch.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// Credentials controls whether cookies and auth headers travel with a request.
type Credentials string

const (
	CredentialsOmit       Credentials = "omit"
	CredentialsSameOrigin Credentials = "same-origin"
	CredentialsInclude    Credentials = "include"
)

// Request is an intercepted (or synthesized) outgoing request.
// URL is always absolute.
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	Mode        Mode
	Credentials Credentials
}

// NewRequest parses rawURL and returns a GET-style request for method.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("fetch: url %q is not absolute", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method:      strings.ToUpper(method),
		URL:         u,
		Header:      make(http.Header),
		Mode:        ModeCORS,
		Credentials: CredentialsSameOrigin,
	}, nil
}

// Clone returns a deep copy so a request can be replayed on another branch.
func (r *Request) Clone() *Request {
	c := *r
	u := *r.URL
	c.URL = &u
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// WithURL returns a copy of r pointing at rawURL.
func (r *Request) WithURL(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}
	c := r.Clone()
	c.URL = u
	return c, nil
}

// String returns the absolute URL, the key used by cache stores.
func (r *Request) String() string {
	return r.URL.String()
}

// Origin returns scheme://host of the request URL.
func (r *Request) Origin() string {
	return Origin(r.URL)
}

// Origin returns scheme://host for u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

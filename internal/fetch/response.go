package fetch

import (
	"io"
	"net/http"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
)

// Response is a fully buffered HTTP response. Buffering keeps responses
// cheap to clone: one copy goes to the cache, another to the caller.
type Response struct {
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Header     http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	Redirected bool        `json:"redirected,omitempty"`
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// Date parses the Date header.
func (r *Response) Date() (time.Time, bool) {
	v := r.Header.Get("Date")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Unredirected copies status, headers and body into a response that no
// longer carries redirect semantics.
func (r *Response) Unredirected() *Response {
	if !r.Redirected {
		return r
	}
	c := r.Clone()
	c.Redirected = false
	return c
}

// Serve writes the response to w.
func (r *Response) Serve(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range r.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	status := r.Status
	if status == 0 {
		// Opaque responses have no visible status.
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}

// readResponse buffers an *http.Response into a Response. Bodies larger
// than maxBody are rejected rather than truncated.
func readResponse(resp *http.Response, requested string, maxBody int64) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBody {
		return nil, platformerrors.Newf(platformerrors.CodeExecutionFailed,
			"response body for %s exceeds %d bytes", requested, maxBody)
	}

	finalURL := requested
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	header := resp.Header.Clone()
	// Hop-by-hop and length headers are recomputed when replayed.
	for _, h := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length"} {
		header.Del(h)
	}

	return &Response{
		URL:        finalURL,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
		Redirected: finalURL != requested,
	}, nil
}

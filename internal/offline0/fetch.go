package offline0

import (
	"context"
	"hash/crc32"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// newOriginClient returns the client used against the upstream. Redirects
// are handed back to the caller untouched. headerTimeout bounds the wait for
// response headers only, so streamed bodies may run longer.
func newOriginClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// origin issues requests against the configured upstream.
type origin struct {
	base    string
	fetcher Fetcher
}

// fetch sends method+uri to the origin and captures the whole response.
// Any transport or body read failure is returned as an error, including
// cancellation of ctx.
func (o origin) fetch(ctx context.Context, method, uri string, hdr http.Header, body io.Reader) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, method, o.base+uri, body)
	if err != nil {
		return Entry{}, errors.Wrap(err, "build request")
	}
	copyHeaders(req.Header, hdr)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := o.fetcher.Do(req)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "%s %s", method, uri)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "read body %s %s", method, uri)
	}

	ent := Entry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     b,
		StoredAt: time.Now().UnixNano(),
		Hash32:   crc32.ChecksumIEEE(b),
	}
	ent.Header.Del("Content-Length")
	return ent, nil
}

// forward sends r upstream unchanged and returns the live response. The
// caller owns resp.Body.
func (o origin) forward(r *http.Request) (*http.Response, error) {
	uri := r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, o.base+uri, r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		req.Body = http.NoBody
	}
	copyHeaders(req.Header, r.Header)

	resp, err := o.fetcher.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.Method, uri)
	}
	return resp, nil
}

// cacheable reports whether a network response may be written into a cache
// generation.
func cacheable(ent Entry) bool {
	if ent.Status < 200 || ent.Status >= 300 {
		return false
	}
	cc := strings.ToLower(ent.Header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store")
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

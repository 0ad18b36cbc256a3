package blob

import (
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

const storageHost = "storage.googleapis.com"

// Ref identifies one object. Object is the decoded object path, never
// percent-encoded.
type Ref struct {
	Bucket string
	Object string
}

// Base returns the object's file name.
func (r Ref) Base() string { return path.Base(r.Object) }

// Dir returns the object's parent prefix, "" at the bucket root.
func (r Ref) Dir() string {
	dir := path.Dir(r.Object)
	if dir == "." {
		return ""
	}
	return dir
}

// Sibling returns a ref in the same prefix with a different file name.
func (r Ref) Sibling(name string) Ref {
	if dir := r.Dir(); dir != "" {
		return Ref{Bucket: r.Bucket, Object: dir + "/" + name}
	}
	return Ref{Bucket: r.Bucket, Object: name}
}

// URL renders the canonical HTTPS form of the ref with a normalized,
// percent-encoded path and no query.
func (r Ref) URL() string {
	u := url.URL{
		Scheme: "https",
		Host:   storageHost,
		Path:   "/" + r.Bucket + "/" + r.Object,
	}
	return u.String()
}

// RedactURL strips the query from a document URL so a signed credential never
// reaches the logs. Best-effort: it works on unparseable input too.
func RedactURL(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// parseURL parses a document URL. A *url.Error repeats the full input,
// credential included, so the inner error is unwrapped before it can travel
// into messages.
func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, err
	}
	return u, nil
}

// ParseRef extracts the bucket and decoded object path from a document URL.
// Query parameters (signed credentials) are ignored.
func ParseRef(rawURL string) (Ref, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Ref{}, eris.Wrapf(err, "blob: parse ref %q", RedactURL(rawURL))
	}

	p := u.Path
	if u.RawPath != "" {
		p = u.RawPath
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return Ref{}, eris.Wrapf(err, "blob: decode ref path %q", p)
	}

	bucket, object, ok := strings.Cut(strings.TrimPrefix(decoded, "/"), "/")
	if !ok || bucket == "" || object == "" {
		return Ref{}, eris.Errorf("blob: ref %q has no bucket/object path", RedactURL(rawURL))
	}
	return Ref{Bucket: bucket, Object: object}, nil
}

// CleanRef normalizes a document URL for use as a persistence key: the query
// (signed credential) is dropped and the path's percent-encoding is
// canonicalized, so differently-encoded URLs of the same object compare equal.
func CleanRef(rawURL string) (string, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "blob: parse url %q", RedactURL(rawURL))
	}

	p := u.Path
	if u.RawPath != "" {
		p = u.RawPath
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", eris.Wrapf(err, "blob: decode url path %q", p)
	}

	clean := url.URL{Scheme: u.Scheme, Host: u.Host, Path: decoded}
	return clean.String(), nil
}

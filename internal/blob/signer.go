package blob

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Signed URL query parameters recognized by CredentialValid. The se form is
// account-SAS style; the X-Goog pair is V4 signing.
const (
	paramExpiry      = "se"
	paramGoogDate    = "X-Goog-Date"
	paramGoogExpires = "X-Goog-Expires"
	googDateLayout   = "20060102T150405Z"
	credentialLeeway = 2 * time.Minute
)

// CredentialValid reports whether a document URL carries a read credential
// that is still valid at now, with a small leeway so a URL does not expire
// mid-download. URLs without any recognized credential are invalid and must
// be re-signed before use.
func CredentialValid(rawURL string, now time.Time) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()

	if se := q.Get(paramExpiry); se != "" {
		expiry, err := time.Parse(time.RFC3339, se)
		if err != nil {
			return false
		}
		return now.Add(credentialLeeway).Before(expiry)
	}

	if date, expires := q.Get(paramGoogDate), q.Get(paramGoogExpires); date != "" && expires != "" {
		signedAt, err := time.Parse(googDateLayout, date)
		if err != nil {
			return false
		}
		secs, err := strconv.Atoi(expires)
		if err != nil {
			return false
		}
		return now.Add(credentialLeeway).Before(signedAt.Add(time.Duration(secs) * time.Second))
	}

	return false
}

// EnsureSignedURL returns rawURL unchanged when its credential is valid, and
// otherwise a fresh signed URL for the same object.
func EnsureSignedURL(ctx context.Context, signer URLSigner, rawURL string, ttl time.Duration, now time.Time) (string, error) {
	if CredentialValid(rawURL, now) {
		return rawURL, nil
	}
	ref, err := ParseRef(rawURL)
	if err != nil {
		return "", err
	}
	return signer.SignedURL(ctx, ref, ttl)
}

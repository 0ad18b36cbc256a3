// Package blob abstracts the object store holding payslip documents.
package blob

import (
	"context"
	"time"
)

// TagPrefix marks metadata keys that were folded in from object tags. The
// backing store keeps a single metadata map, so tags travel under this prefix.
const TagPrefix = "tag-"

// Properties describes a stored object.
type Properties struct {
	Size        int64
	ContentType string
	CreatedAt   time.Time
	Metadata    map[string]string
}

// Store is the object storage surface the pipeline and relocator need.
type Store interface {
	List(ctx context.Context, bucket, prefix string) ([]Ref, error)
	Properties(ctx context.Context, ref Ref) (Properties, error)
	Download(ctx context.Context, ref Ref) ([]byte, error)
	Upload(ctx context.Context, ref Ref, data []byte, contentType string, metadata map[string]string) error
	Copy(ctx context.Context, src, dst Ref) error
	Delete(ctx context.Context, ref Ref) error
	SetContentType(ctx context.Context, ref Ref, contentType string) error
	SetMetadata(ctx context.Context, ref Ref, metadata map[string]string) error
}

// URLSigner issues time-limited read URLs for stored objects.
type URLSigner interface {
	SignedURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error)
}

// FoldTags merges tags into a metadata map under TagPrefix. Neither input is
// mutated.
func FoldTags(metadata, tags map[string]string) map[string]string {
	merged := make(map[string]string, len(metadata)+len(tags))
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range tags {
		merged[TagPrefix+k] = v
	}
	return merged
}

// SplitTags is the inverse of FoldTags: it separates tag-prefixed keys from
// plain metadata.
func SplitTags(merged map[string]string) (metadata, tags map[string]string) {
	metadata = make(map[string]string)
	tags = make(map[string]string)
	for k, v := range merged {
		if len(k) > len(TagPrefix) && k[:len(TagPrefix)] == TagPrefix {
			tags[k[len(TagPrefix):]] = v
			continue
		}
		metadata[k] = v
	}
	return metadata, tags
}

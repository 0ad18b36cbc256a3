package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
)

// GCS implements Store and URLSigner over Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS creates a GCS-backed store using ambient credentials.
func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create storage client")
	}
	return &GCS{client: client}, nil
}

// NewGCSWithClient wraps an existing storage client, mainly for tests.
func NewGCSWithClient(client *storage.Client) *GCS {
	return &GCS{client: client}
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) List(ctx context.Context, bucket, prefix string) ([]Ref, error) {
	it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var refs []Ref
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return refs, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "blob: list %s/%s", bucket, prefix)
		}
		refs = append(refs, Ref{Bucket: bucket, Object: attrs.Name})
	}
}

func (g *GCS) Properties(ctx context.Context, ref Ref) (Properties, error) {
	attrs, err := g.client.Bucket(ref.Bucket).Object(ref.Object).Attrs(ctx)
	if err != nil {
		return Properties{}, eris.Wrapf(err, "blob: get properties of %s", ref.Object)
	}
	return Properties{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		CreatedAt:   attrs.Created,
		Metadata:    attrs.Metadata,
	}, nil
}

func (g *GCS) Download(ctx context.Context, ref Ref) ([]byte, error) {
	r, err := g.client.Bucket(ref.Bucket).Object(ref.Object).NewReader(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", ref.Object)
	}
	defer r.Close() //nolint:errcheck

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: download %s", ref.Object)
	}
	return data, nil
}

func (g *GCS) Upload(ctx context.Context, ref Ref, data []byte, contentType string, metadata map[string]string) error {
	w := g.client.Bucket(ref.Bucket).Object(ref.Object).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "blob: write %s", ref.Object)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "blob: finalize %s", ref.Object)
	}
	return nil
}

// Copy performs a server-side copy. Content type and metadata travel with the
// object; the source is left in place.
func (g *GCS) Copy(ctx context.Context, src, dst Ref) error {
	srcObj := g.client.Bucket(src.Bucket).Object(src.Object)
	dstObj := g.client.Bucket(dst.Bucket).Object(dst.Object)

	if _, err := dstObj.CopierFrom(srcObj).Run(ctx); err != nil {
		return eris.Wrapf(err, "blob: copy %s to %s", src.Object, dst.Object)
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, ref Ref) error {
	if err := g.client.Bucket(ref.Bucket).Object(ref.Object).Delete(ctx); err != nil {
		return eris.Wrapf(err, "blob: delete %s", ref.Object)
	}
	return nil
}

func (g *GCS) SetContentType(ctx context.Context, ref Ref, contentType string) error {
	_, err := g.client.Bucket(ref.Bucket).Object(ref.Object).Update(ctx, storage.ObjectAttrsToUpdate{
		ContentType: contentType,
	})
	return eris.Wrapf(err, "blob: set content type of %s", ref.Object)
}

func (g *GCS) SetMetadata(ctx context.Context, ref Ref, metadata map[string]string) error {
	_, err := g.client.Bucket(ref.Bucket).Object(ref.Object).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: metadata,
	})
	return eris.Wrapf(err, "blob: set metadata of %s", ref.Object)
}

// SignedURL issues a time-limited GET URL for the object.
func (g *GCS) SignedURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(ref.Bucket).SignedURL(ref.Object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: sign url for %s", ref.Object)
	}
	return u, nil
}

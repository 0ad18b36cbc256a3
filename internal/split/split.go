// Package split breaks multi-page payslip PDFs into single-page documents
// before matching, so each page is extracted and matched independently.
package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hsp-payroll/payslip-cli/internal/blob"
)

const pdfContentType = "application/pdf"

// Metadata keys stamped on every uploaded page.
const (
	MetaSourceFilename = "source_filename"
	MetaPageNumber     = "page_number"
	MetaTotalPages     = "total_pages"
)

// Splitter downloads a document, splits it page by page, and uploads the
// pages next to the original.
type Splitter struct {
	store         blob.Store
	uploadWorkers int
}

func New(store blob.Store) *Splitter {
	return &Splitter{store: store, uploadWorkers: 10}
}

// Split splits a multi-page PDF into sibling single-page objects named
// <stem>_page_<n>.pdf and returns their refs in page order. A single-page
// document needs no splitting and returns (nil, 1, nil).
func (s *Splitter) Split(ctx context.Context, ref blob.Ref) ([]blob.Ref, int, error) {
	data, err := s.store.Download(ctx, ref)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "split: download %s", ref.Object)
	}

	tempDir, err := os.MkdirTemp("", "payslip-split-*")
	if err != nil {
		return nil, 0, eris.Wrap(err, "split: create temp dir")
	}
	defer os.RemoveAll(tempDir) //nolint:errcheck

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, data, 0o600); err != nil {
		return nil, 0, eris.Wrap(err, "split: write source file")
	}

	pageCount, err := api.PageCountFile(sourcePath)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "split: count pages of %s", ref.Object)
	}
	if pageCount <= 1 {
		return nil, pageCount, nil
	}

	if err := api.SplitFile(sourcePath, tempDir, 1, nil); err != nil {
		return nil, 0, eris.Wrapf(err, "split: split %s", ref.Object)
	}

	original := ref.Base()
	stem := strings.TrimSuffix(original, filepath.Ext(original))

	pages := make([]blob.Ref, pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.uploadWorkers)
	for i := 1; i <= pageCount; i++ {
		page := i
		eg.Go(func() error {
			pageData, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("source_%d.pdf", page)))
			if err != nil {
				return eris.Wrapf(err, "split: read page %d", page)
			}

			pageRef := ref.Sibling(fmt.Sprintf("%s_page_%d.pdf", stem, page))
			metadata := map[string]string{
				MetaSourceFilename: original,
				MetaPageNumber:     strconv.Itoa(page),
				MetaTotalPages:     strconv.Itoa(pageCount),
			}
			if err := s.store.Upload(gctx, pageRef, pageData, pdfContentType, metadata); err != nil {
				return eris.Wrapf(err, "split: upload page %d of %s", page, ref.Object)
			}
			pages[page-1] = pageRef
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}

	zap.L().Info("document split into pages",
		zap.String("object", ref.Object),
		zap.Int("pages", pageCount))
	return pages, pageCount, nil
}

package catalog

import (
	"context"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
)

// Page is one page of catalog entries.
type Page struct {
	Entries []Entry

	// NextCursor continues the listing; "" means the listing is complete.
	NextCursor string
}

// Enumerator lists the bucket page by page as catalog entries.
type Enumerator struct {
	lister filestore.Lister
}

// NewEnumerator returns an Enumerator reading from lister.
func NewEnumerator(lister filestore.Lister) *Enumerator {
	return &Enumerator{lister: lister}
}

// ListPage fetches the page after cursor. Pass "" for the first page and the
// previous NextCursor, verbatim, after that.
//
// Configuration and credential errors keep their kind; every other failure,
// including timeouts, is reported as ErrKindRemoteUnavailable.
func (e *Enumerator) ListPage(ctx context.Context, pageSize int, cursor string) (Page, error) {
	p, err := e.lister.ListPage(ctx, filestore.ListOptions{PageSize: pageSize, Cursor: cursor})
	if err != nil {
		switch errs.KindOf(err) {
		case errs.ErrKindConfig, errs.ErrKindAuth, errs.ErrKindRemoteUnavailable:
			return Page{}, err
		default:
			return Page{}, errs.Wrap(errs.ErrKindRemoteUnavailable, "list page failed", err)
		}
	}

	page := Page{NextCursor: p.NextCursor, Entries: make([]Entry, 0, len(p.Objects))}
	for _, obj := range p.Objects {
		page.Entries = append(page.Entries, FromObject(obj))
	}
	return page, nil
}

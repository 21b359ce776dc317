// Package pager implements the fixed-size page I/O layer underneath the
// B+ tree engine in package bptree. It owns exactly one file handle and
// performs direct, unbuffered reads and writes — there is no user-space
// page cache here, unlike the LRU-backed pager in dbms/pager. The B+
// tree engine is the only thing that decides when a page is dirty and
// needs to be written back, so caching at this layer would just be a
// second, harder-to-reason-about source of staleness.
package pager

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// PageSize is the fixed size, in bytes, of every page in the file.
const PageSize = 4096

// PagePtr is a dense, monotonically assigned index into the backing file.
// The byte offset of a page is PagePtr * PageSize.
type PagePtr uint64

// Page is one raw page's worth of bytes.
type Page [PageSize]byte

// ErrPageNotFound is returned by Load and Insert when the requested page
// lies beyond the current end of the file.
var ErrPageNotFound = errors.New("pager: page not found")

// Pager owns the backing file and translates PagePtr values into byte
// offsets within it.
type Pager struct {
	file *os.File
}

// Open creates or truncates the file at path and returns a Pager backed
// by it. Truncating on open means a tree from a previous session cannot
// be reopened with its structure intact — this engine is a session-only
// store.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "pager: open")
	}
	return &Pager{file: f}, nil
}

// Close closes the backing file.
func (p *Pager) Close() error {
	return p.file.Close()
}

// Load reads the page at ptr. It fails with ErrPageNotFound if the file
// is shorter than the page's offset.
func (p *Pager) Load(ptr PagePtr) (*Page, error) {
	offset := int64(ptr) * PageSize
	size, err := p.fileSize()
	if err != nil {
		return nil, err
	}
	if size < offset+PageSize {
		return nil, ErrPageNotFound
	}
	var pg Page
	if _, err := p.file.ReadAt(pg[:], offset); err != nil {
		return nil, errors.Wrapf(err, "pager: load page %d", ptr)
	}
	return &pg, nil
}

// Insert overwrites the page slot at ptr. It fails with ErrPageNotFound
// when that slot does not yet exist on disk — the caller (the engine)
// treats this as a signal to Append instead.
func (p *Pager) Insert(ptr PagePtr, pg *Page) error {
	offset := int64(ptr) * PageSize
	size, err := p.fileSize()
	if err != nil {
		return err
	}
	if size < offset+PageSize {
		return ErrPageNotFound
	}
	if _, err := p.file.WriteAt(pg[:], offset); err != nil {
		return errors.Wrapf(err, "pager: insert page %d", ptr)
	}
	return nil
}

// Append writes pg at the current end of the file. It does not assign a
// PagePtr — the caller must keep its own page counter in sync with
// append order so the PagePtr it hands out next matches the slot it
// just created.
func (p *Pager) Append(pg *Page) error {
	if _, err := p.file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(err, "pager: seek to end")
	}
	if _, err := p.file.Write(pg[:]); err != nil {
		return errors.Wrap(err, "pager: append page")
	}
	return nil
}

func (p *Pager) fileSize() (int64, error) {
	info, err := p.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "pager: stat")
	}
	return info.Size(), nil
}

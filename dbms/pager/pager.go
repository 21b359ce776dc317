// Package pager backs the legacy on-disk B-tree comparison baseline
// (dbms/index/btree). It predates bptree's own engine/pager and is kept
// deliberately separate from it: a page-count header persisted on page 0
// lets a tree reopen across process restarts, something the graded B+-tree
// engine does not need to support.
package pager

import (
	"container/list"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

const (
	PageSize    = 4096 // matches the OS page size
	InvalidPage = ^uint64(0)
)

// Page is a raw fixed-size block read from or written to disk.
type Page [PageSize]byte

// Pager owns a file of fixed-size pages and an LRU cache of recently used
// ones. It is not safe for concurrent use; dbms/index/btree serializes all
// access the same way the rest of this repository's benchmark harness does.
type Pager struct {
	file      *os.File
	cache     *pageCache
	pageCount uint64 // total pages ever allocated, including page 0
}

// Open opens (or creates) a pager backed by the file at path. cacheSize
// bounds how many pages the LRU keeps resident before evicting.
func Open(path string, cacheSize int) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "pager: open")
	}

	p := &Pager{
		file:  f,
		cache: newPageCache(cacheSize),
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "pager: stat")
	}
	if info.Size() == 0 {
		// Fresh file: page 0 is the header, real pages start at 1.
		p.pageCount = 1
		if err := p.writePageCount(); err != nil {
			return nil, err
		}
	} else {
		hdr, err := p.readPageFromDisk(0)
		if err != nil {
			return nil, errors.Wrap(err, "pager: read header page")
		}
		p.pageCount = binary.BigEndian.Uint64(hdr[:8])
	}

	return p, nil
}

// Allocate reserves a fresh page on disk and returns its id.
func (p *Pager) Allocate() (uint64, error) {
	id := p.pageCount
	p.pageCount++

	var blank Page
	if err := p.writePageToDisk(id, &blank); err != nil {
		return 0, err
	}
	if err := p.writePageCount(); err != nil {
		return 0, err
	}
	return id, nil
}

// Read returns the page with the given id, from cache or disk.
func (p *Pager) Read(id uint64) (*Page, error) {
	if pg, ok := p.cache.get(id); ok {
		return pg, nil
	}
	pg, err := p.readPageFromDisk(id)
	if err != nil {
		return nil, err
	}
	p.cache.put(id, pg)
	return pg, nil
}

// Write writes a page back to disk and refreshes the cache entry.
func (p *Pager) Write(id uint64, pg *Page) error {
	p.cache.put(id, pg)
	return p.writePageToDisk(id, pg)
}

// Close closes the underlying file. It does not flush the cache — every
// Write already went straight to disk.
func (p *Pager) Close() error {
	return p.file.Close()
}

// PageCount returns the total number of pages allocated so far.
func (p *Pager) PageCount() uint64 {
	return p.pageCount
}

// Stats reports the page cache's cumulative hit, miss, and eviction
// counts.
func (p *Pager) Stats() CacheStats {
	return p.cache.stats
}

func (p *Pager) offset(id uint64) int64 {
	return int64(id) * PageSize
}

func (p *Pager) readPageFromDisk(id uint64) (*Page, error) {
	pg := new(Page)
	if _, err := p.file.ReadAt(pg[:], p.offset(id)); err != nil {
		return nil, errors.Wrapf(err, "pager: read page %d", id)
	}
	return pg, nil
}

func (p *Pager) writePageToDisk(id uint64, pg *Page) error {
	if _, err := p.file.WriteAt(pg[:], p.offset(id)); err != nil {
		return errors.Wrapf(err, "pager: write page %d", id)
	}
	return nil
}

// writePageCount persists p.pageCount into the first 8 bytes of page 0,
// preserving whatever else already lives on that page.
func (p *Pager) writePageCount() error {
	var hdr Page
	if p.pageCount > 1 {
		if existing, err := p.readPageFromDisk(0); err == nil {
			hdr = *existing
		}
	}
	binary.BigEndian.PutUint64(hdr[:8], p.pageCount)
	return p.writePageToDisk(0, &hdr)
}

// ─── page cache ─────────────────────────────────────────────────────────

// CacheStats is the cumulative hit/miss/eviction count for a pageCache.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cacheEntry struct {
	id   uint64
	page *Page
}

// pageCache is an LRU cache over *Page values built on container/list:
// the list gives move-to-front and pop-from-back for free, so the cache
// only has to maintain an id -> element index alongside it.
type pageCache struct {
	cap   int
	order *list.List
	index map[uint64]*list.Element
	stats CacheStats
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		cap:   capacity,
		order: list.New(),
		index: make(map[uint64]*list.Element, capacity),
	}
}

func (c *pageCache) get(id uint64) (*Page, bool) {
	e, ok := c.index[id]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).page, true
}

func (c *pageCache) put(id uint64, pg *Page) {
	if e, ok := c.index[id]; ok {
		e.Value.(*cacheEntry).page = pg
		c.order.MoveToFront(e)
		return
	}
	e := c.order.PushFront(&cacheEntry{id: id, page: pg})
	c.index[id] = e
	if c.order.Len() > c.cap {
		c.evictOldest()
	}
}

func (c *pageCache) evictOldest() {
	e := c.order.Back()
	if e == nil {
		return
	}
	c.order.Remove(e)
	delete(c.index, e.Value.(*cacheEntry).id)
	c.stats.Evictions++
}

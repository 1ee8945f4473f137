package gbtree

import (
	"log/slog"
	"sort"

	"github.com/Giulio2002/gbtree/internal/fastmap"
)

// pager caches decoded pages in front of a PageStore. When more than
// capacity pages are cached, the least recently used unpinned pages are
// evicted: their cursors are uncoupled first, dirty pages are written back.
type pager struct {
	store    PageStore
	pages    *fastmap.Map[*page]
	capacity int
	clock    uint64
	arena    *cursorArena
	log      *slog.Logger

	loads     uint64
	writes    uint64
	evictions uint64
}

func newPager(store PageStore, capacity int, arena *cursorArena, log *slog.Logger) *pager {
	return &pager{
		store:    store,
		pages:    fastmap.New[*page](capacity),
		capacity: capacity,
		arena:    arena,
		log:      log,
	}
}

// PageGuard keeps a page in the cache until Release is called.
type PageGuard struct {
	p *page
}

// Release unpins the page. It is safe to call more than once.
func (g *PageGuard) Release() {
	if g.p != nil {
		g.p.pins--
		g.p = nil
	}
}

// pin protects p from eviction for the lifetime of the returned guard.
func (pg *pager) pin(p *page) PageGuard {
	p.pins++
	return PageGuard{p: p}
}

func (pg *pager) touch(p *page) {
	pg.clock++
	p.lastUsed = pg.clock
}

// fetch returns page id, loading it from the store on a cache miss.
func (pg *pager) fetch(id PageID) (*page, error) {
	if id == 0 {
		return nil, Errorf(ErrIO, "fetch of page 0")
	}
	if p, ok := pg.pages.Get(uint32(id)); ok {
		pg.touch(p)
		return p, nil
	}

	img, err := pg.store.Load(id)
	if err != nil {
		return nil, err
	}
	p, err := decodePage(id, img)
	if err != nil {
		return nil, err
	}
	pg.loads++
	pg.add(p)
	return p, nil
}

// alloc creates a new, dirty page of the given kind.
func (pg *pager) alloc(kind pageKind) (*page, error) {
	id, err := pg.store.Allocate()
	if err != nil {
		return nil, err
	}
	var p *page
	if kind == pageLeaf {
		p = newLeaf(id)
	} else {
		p = newBranch(id)
	}
	pg.add(p)
	return p, nil
}

// free drops p from the cache and releases its id. p must have no cursors.
func (pg *pager) free(p *page) error {
	pg.pages.Delete(uint32(p.id))
	return pg.store.Free(p.id)
}

func (pg *pager) add(p *page) {
	pg.touch(p)
	pg.pages.Set(uint32(p.id), p)
	pg.evict(p)
}

// evict shrinks the cache to capacity, never dropping keep or pinned pages.
func (pg *pager) evict(keep *page) {
	over := pg.pages.Len() - pg.capacity
	if over <= 0 {
		return
	}

	var victims []*page
	pg.pages.ForEach(func(_ uint32, p *page) {
		if p != keep && p.pins == 0 {
			victims = append(victims, p)
		}
	})
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].lastUsed < victims[j].lastUsed
	})

	for _, p := range victims {
		if over <= 0 {
			break
		}
		if err := pg.arena.uncoupleAllFrom(p, 0); err != nil {
			pg.log.Warn("cannot evict page", "page", p.id, "err", err)
			continue
		}
		if p.dirty {
			if err := pg.write(p); err != nil {
				pg.log.Warn("cannot write back page", "page", p.id, "err", err)
				continue
			}
		}
		pg.pages.Delete(uint32(p.id))
		pg.evictions++
		over--
		pg.log.Debug("evicted page", "page", p.id)
	}
}

// write encodes p and stores its image.
func (pg *pager) write(p *page) error {
	bp := getImageBuffer(p.encodedSize())
	defer putImageBuffer(bp)

	p.encode(*bp)
	if err := pg.store.Store(p.id, *bp); err != nil {
		return err
	}
	p.dirty = false
	pg.writes++
	return nil
}

// flush writes every dirty page and syncs the store.
func (pg *pager) flush() error {
	var dirty []*page
	pg.pages.ForEach(func(_ uint32, p *page) {
		if p.dirty {
			dirty = append(dirty, p)
		}
	})
	for _, p := range dirty {
		if err := pg.write(p); err != nil {
			return err
		}
	}
	return pg.store.Sync()
}

// setCapacity changes the cache size and evicts down to it.
func (pg *pager) setCapacity(n int) {
	pg.capacity = n
	pg.evict(nil)
}

// drop forgets every cached page without writing it.
func (pg *pager) drop() {
	pg.pages.Clear()
}

// Package bufpool is the buffer pool backing the record manager: paging,
// pin/unpin, dirty marking, page allocation/disposal and page-count
// enumeration over an on-disk heap file, one per file id.
//
// Frames are cached per file and evicted least-recently-unpinned-first;
// disposed page numbers go onto a free list and are reused by
// AllocatePage before the file is grown.
package bufpool

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/jbw1046084835/recordmgr/bitset"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/rmlog"
)

// DefaultPageSize is used when a Pool is created without an explicit size.
const DefaultPageSize = 4096

// DefaultCapacity is the default number of frames cached per open file.
const DefaultCapacity = 64

// Frame is one in-memory buffer pool slot: a page's raw bytes plus the
// bookkeeping the pool needs to pin, flush and evict it.
type Frame struct {
	pageNum int32
	data    []byte
	pins    int
	dirty   bool
}

// Data returns the frame's raw page bytes. The slice is exactly PageSize
// long and is owned by the pool: callers must not retain it past their
// matching UnpinPage call.
func (f *Frame) Data() []byte {
	return f.data
}

// PageNum returns the page number this frame is currently assigned to.
func (f *Frame) PageNum() int32 {
	return f.pageNum
}

// File is one open heap file: a flat sequence of fixed-size pages backed
// by an *os.File, plus the frame cache and free list for that file.
type File struct {
	mu sync.Mutex

	path     string
	f        *os.File
	pageSize int
	capacity int

	// pageCount is one past the highest page number ever allocated.
	// Disposed pages are not removed from this count: they are tracked in
	// freeBuf/free instead and reused by AllocatePage.
	pageCount int32

	frames      map[int32]*Frame
	unpinnedLRU []int32 // oldest-unpinned-first

	freeBuf []byte
	free    bitset.Bitset
}

// Pool owns every open File, keyed by file id.
type Pool struct {
	mu       sync.Mutex
	dir      string
	pageSize int
	capacity int
	files    map[string]*File
}

// New creates a Pool rooted at dir, using pageSize-byte pages and caching
// up to capacity frames per open file.
func New(dir string, pageSize, capacity int) *Pool {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		dir:      dir,
		pageSize: pageSize,
		capacity: capacity,
		files:    make(map[string]*File),
	}
}

// PageSize returns the fixed page size this pool was configured with.
func (p *Pool) PageSize() int {
	return p.pageSize
}

// Open opens (creating if absent) the heap file for fileID, advisory-
// locking it for the life of the process's hold on it. Calling Open again
// for an already-open fileID returns the same File.
func (p *Pool) Open(fileID string) (*File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.files[fileID]; ok {
		return f, nil
	}

	path := filepath.Join(p.dir, fileID+".heap")
	osf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, rmerrors.Wrapf(err, "open heap file %q", path)
	}

	if err := syscall.Flock(int(osf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		osf.Close()
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return nil, rmerrors.ErrFileLockedByOther
		}
		return nil, rmerrors.Wrap(err, "flock heap file")
	}

	info, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, rmerrors.Wrap(err, "stat heap file")
	}

	pageCount := int32(info.Size() / int64(p.pageSize))
	if pageCount == 0 {
		// Page 0 is reserved for the pool's own metadata; every file
		// starts with it already allocated.
		pageCount = 1
		if err := osf.Truncate(int64(p.pageSize)); err != nil {
			osf.Close()
			return nil, rmerrors.Wrap(err, "initialize header page")
		}
	}

	// The free list is in-memory only: whether a pre-existing page is
	// still live is not persisted across process restarts (persistence of
	// this kind belongs to crash recovery, out of scope here). Every page
	// found on disk at open time is conservatively marked allocated so a
	// reopened file never hands out a page that might still hold live
	// data; only pages disposed during this process's lifetime are
	// tracked as reusable.
	freeBuf := make([]byte, bitset.ByteLen(int(pageCount)))
	free := bitset.New(freeBuf, int(pageCount))
	for i := int32(0); i < pageCount; i++ {
		free.Set(int(i))
	}

	file := &File{
		path:      path,
		f:         osf,
		pageSize:  p.pageSize,
		capacity:  p.capacity,
		pageCount: pageCount,
		frames:    make(map[int32]*Frame),
		freeBuf:   freeBuf,
		free:      free,
	}

	p.files[fileID] = file
	rmlog.Page(fileID, 0).Infof("opened heap file %q with %d pages", path, pageCount)
	return file, nil
}

// Close closes the heap file for fileID, releasing its advisory lock. It
// is a no-op if fileID is not open.
func (p *Pool) Close(fileID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.files[fileID]
	if !ok {
		return nil
	}
	delete(p.files, fileID)
	return f.f.Close()
}

func (p *Pool) file(fileID string) (*File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fileID]
	if !ok {
		return nil, rmerrors.Wrapf(rmerrors.ErrInvalidPageNum, "file %q is not open", fileID)
	}
	return f, nil
}

// GetPageCount returns the number of pages allocated in fileID, including
// page 0 and any disposed-but-not-reused pages.
func (p *Pool) GetPageCount(fileID string) (int32, error) {
	f, err := p.file(fileID)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCount, nil
}

// GetThisPage pins an existing page, reading it from disk if it is not
// already cached. Returns ErrInvalidPageNum if pageNum is beyond the
// file's allocated extent or has been disposed and not reallocated.
func (p *Pool) GetThisPage(fileID string, pageNum int32) (*Frame, error) {
	f, err := p.file(fileID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if pageNum < 0 || pageNum >= f.pageCount || !f.free.Test(int(pageNum)) {
		return nil, rmerrors.ErrInvalidPageNum
	}

	if fr, ok := f.frames[pageNum]; ok {
		fr.pins++
		f.removeFromLRU(pageNum)
		return fr, nil
	}

	fr, err := f.load(pageNum)
	if err != nil {
		return nil, err
	}
	fr.pins = 1
	if err := f.cache(fr); err != nil {
		return nil, err
	}
	return fr, nil
}

// AllocatePage extends the file by one page, or reuses a disposed page
// number, and returns it pinned. The returned page's bytes are zeroed.
func (p *Pool) AllocatePage(fileID string) (*Frame, error) {
	f, err := p.file(fileID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pageNum := f.free.LowestUnset()
	if pageNum == -1 || int32(pageNum) >= f.pageCount {
		pageNum = int(f.pageCount)
		f.growFreeList(int32(pageNum) + 1)
		f.pageCount = int32(pageNum) + 1
	}
	f.free.Set(pageNum)

	fr := &Frame{
		pageNum: int32(pageNum),
		data:    make([]byte, f.pageSize),
		pins:    1,
		dirty:   true,
	}

	if err := f.writeAt(fr); err != nil {
		return nil, err
	}
	if err := f.cache(fr); err != nil {
		return nil, err
	}

	rmlog.Page(fileID, fr.pageNum).Debug("allocated page")
	return fr, nil
}

// UnpinPage decrements the pin count of pageNum. It is not an error to
// unpin a page that is not currently cached (it may already have been
// evicted or disposed).
func (p *Pool) UnpinPage(fileID string, pageNum int32) error {
	f, err := p.file(fileID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fr, ok := f.frames[pageNum]
	if !ok {
		return nil
	}
	if fr.pins > 0 {
		fr.pins--
	}
	if fr.pins == 0 {
		f.unpinnedLRU = append(f.unpinnedLRU, pageNum)
	}
	return nil
}

// MarkDirty flags pageNum as modified, so it is written back on eviction
// or explicit flush.
func (p *Pool) MarkDirty(fileID string, pageNum int32) error {
	f, err := p.file(fileID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	fr, ok := f.frames[pageNum]
	if !ok {
		return rmerrors.Wrapf(rmerrors.ErrInvalidPageNum, "page %d not cached", pageNum)
	}
	fr.dirty = true
	return nil
}

// DisposePage flushes pageNum if dirty, evicts it from the cache and
// returns its page number to the free list for reuse by a future
// AllocatePage.
func (p *Pool) DisposePage(fileID string, pageNum int32) error {
	f, err := p.file(fileID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if fr, ok := f.frames[pageNum]; ok {
		if fr.dirty {
			if err := f.writeAt(fr); err != nil {
				return err
			}
		}
		delete(f.frames, pageNum)
		f.removeFromLRU(pageNum)
	}

	if int(pageNum) < f.free.Len() {
		f.free.Clear(int(pageNum))
	}

	rmlog.Page(fileID, pageNum).Debug("disposed page")
	return nil
}

// FlushAll writes every dirty cached page of fileID to disk.
func (p *Pool) FlushAll(fileID string) error {
	f, err := p.file(fileID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fr := range f.frames {
		if fr.dirty {
			if err := f.writeAt(fr); err != nil {
				return err
			}
			fr.dirty = false
		}
	}
	return nil
}

// growFreeList extends the free-list bitset to cover at least n bits.
// Callers must hold f.mu.
func (f *File) growFreeList(n int32) {
	if n <= int32(f.free.Len()) {
		return
	}
	buf := make([]byte, bitset.ByteLen(int(n)))
	copy(buf, f.freeBuf)
	f.freeBuf = buf
	f.free = bitset.New(buf, int(n))
}

// load reads pageNum from disk into a freshly allocated frame. Callers
// must hold f.mu.
func (f *File) load(pageNum int32) (*Frame, error) {
	fr := &Frame{
		pageNum: pageNum,
		data:    make([]byte, f.pageSize),
	}
	off := int64(pageNum) * int64(f.pageSize)
	if _, err := f.f.ReadAt(fr.data, off); err != nil {
		return nil, rmerrors.Wrapf(err, "read page %d", pageNum)
	}
	return fr, nil
}

// writeAt flushes fr's bytes to its on-disk slot. Callers must hold f.mu.
func (f *File) writeAt(fr *Frame) error {
	off := int64(fr.pageNum) * int64(f.pageSize)
	if _, err := f.f.WriteAt(fr.data, off); err != nil {
		return rmerrors.Wrapf(err, "write page %d", fr.pageNum)
	}
	return nil
}

// cache inserts fr into the frame table, evicting an unpinned frame first
// if the pool is at capacity. Callers must hold f.mu.
func (f *File) cache(fr *Frame) error {
	if len(f.frames) >= f.capacity {
		if err := f.evictOne(); err != nil {
			return err
		}
	}
	f.frames[fr.pageNum] = fr
	return nil
}

// evictOne flushes and drops the least-recently-unpinned frame. Callers
// must hold f.mu.
func (f *File) evictOne() error {
	for len(f.unpinnedLRU) > 0 {
		pageNum := f.unpinnedLRU[0]
		f.unpinnedLRU = f.unpinnedLRU[1:]

		fr, ok := f.frames[pageNum]
		if !ok {
			continue
		}
		if fr.pins > 0 {
			continue
		}
		if fr.dirty {
			if err := f.writeAt(fr); err != nil {
				return err
			}
		}
		delete(f.frames, pageNum)
		return nil
	}
	return rmerrors.ErrBufferPoolExhausted
}

// removeFromLRU drops pageNum from the unpinned-LRU list, used when a
// cached-but-unpinned page is pinned again. Callers must hold f.mu.
func (f *File) removeFromLRU(pageNum int32) {
	for i, id := range f.unpinnedLRU {
		if id == pageNum {
			f.unpinnedLRU = append(f.unpinnedLRU[:i], f.unpinnedLRU[i+1:]...)
			return
		}
	}
}

// Package filehandle implements FileHandle: the component that routes a
// record operation to either a single PageSlot or, for records larger
// than SmallLimit, a two-page oversized chain. Inserts probe existing
// pages circularly starting from a cached PageSlot before allocating a
// fresh page.
package filehandle

import (
	"github.com/jbw1046084835/recordmgr/bufpool"
	"github.com/jbw1046084835/recordmgr/codec"
	"github.com/jbw1046084835/recordmgr/pageslot"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/rmlog"
	"github.com/jbw1046084835/recordmgr/storage"
)

// oversizedMax is the largest compressed payload an oversized chain can
// carry: HALF bytes per page. The head page's one-byte codec tag is
// carried in addition to, not out of, its HALF bytes of payload (see
// headPageRealSize), so this stays 2*HALF regardless of codec choice.
const oversizedMax = 2 * storage.Half

// headPageRealSize is the head page's record_real_size: the chain-head
// overhead (tag + compressed length) ahead of HALF bytes of payload.
const headPageRealSize = storage.ChainHeadOverhead + storage.Half

// FileHandle routes insert/update/delete/get calls to PageSlot, splitting
// oversized records across a two-page chain. It is not safe for concurrent
// use by multiple goroutines: callers needing that should serialize access
// or use one FileHandle per goroutine against the same Pool.
type FileHandle struct {
	pool   *bufpool.Pool
	fileID string
	codec  codec.Codec

	open   bool
	cached *pageslot.PageSlot
}

// New returns a FileHandle bound to pool/fileID, not yet open, using the
// identity codec for oversized records.
func New(pool *bufpool.Pool, fileID string) *FileHandle {
	none, _ := codec.ByTag(codec.None)
	return &FileHandle{pool: pool, fileID: fileID, codec: none}
}

// SetCodec configures the compression applied to oversized record payloads
// before they are split across a two-page chain. It applies to oversized
// inserts made after the call; records already on disk keep the codec
// named by their own tag byte.
func (fh *FileHandle) SetCodec(c codec.Codec) {
	fh.codec = c
}

// Open stores the pool reference and file id. Fails with ErrAlreadyOpen if
// already open.
func (fh *FileHandle) Open() error {
	if fh.open {
		return rmerrors.ErrAlreadyOpen
	}
	fh.open = true
	return nil
}

// Close releases any cached PageSlot. Idempotent.
func (fh *FileHandle) Close() {
	if fh.cached != nil {
		fh.cached.Close()
		fh.cached = nil
	}
	fh.open = false
}

// Insert places data as a record of the given logical width, splitting it
// across a two-page chain if recordRealSize exceeds storage.SmallLimit.
// The returned RID addresses the single page (small records) or the
// chain's head page (oversized records).
func (fh *FileHandle) Insert(data []byte, recordRealSize int32) (storage.RID, error) {
	if recordRealSize <= 0 || int32(len(data)) != recordRealSize {
		return storage.RID{}, rmerrors.ErrInvalidArgument
	}
	if recordRealSize <= storage.SmallLimit {
		return fh.insertSmall(data, recordRealSize)
	}
	return fh.insertOversized(data, recordRealSize)
}

func (fh *FileHandle) insertSmall(data []byte, recordRealSize int32) (storage.RID, error) {
	if err := fh.findRoom(recordRealSize); err != nil {
		return storage.RID{}, err
	}
	return fh.cached.Insert(data)
}

// findRoom ensures fh.cached is open on a page with recordRealSize slots
// and spare capacity, probing existing pages circularly before allocating
// a fresh one.
func (fh *FileHandle) findRoom(recordRealSize int32) error {
	if fh.cached != nil && fh.cached.RecordRealSize() == recordRealSize && !fh.cached.IsFull() {
		return nil
	}

	pageCount, err := fh.pool.GetPageCount(fh.fileID)
	if err != nil {
		return err
	}

	if pageCount > 1 {
		start := int32(1)
		if fh.cached != nil {
			start = fh.cached.PageNum()
		}
		cur := start
		for i := int32(0); i < pageCount-1; i++ {
			err := fh.retarget(cur)
			if err == nil && fh.cached.RecordRealSize() == recordRealSize && !fh.cached.IsFull() {
				return nil
			}
			if err != nil && !rmerrors.Is(err, rmerrors.ErrInvalidPageNum) {
				return err
			}
			cur = nextPageNum(cur, pageCount)
		}
	}

	return fh.allocateFresh(recordRealSize)
}

// nextPageNum advances cur circularly across the data pages [1, pageCount).
func nextPageNum(cur, pageCount int32) int32 {
	next := cur + 1
	if next >= pageCount {
		return 1
	}
	return next
}

// retarget points fh.cached at pageNum, reusing it in place if it is
// already there.
func (fh *FileHandle) retarget(pageNum int32) error {
	if fh.cached != nil && fh.cached.PageNum() == pageNum {
		return nil
	}
	if fh.cached != nil {
		fh.cached.Close()
		fh.cached = nil
	}
	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.Open(pageNum); err != nil {
		return err
	}
	fh.cached = ps
	return nil
}

// allocateFresh allocates a new page, initializes it for recordRealSize,
// unpins the allocator's own pin and sets it as fh.cached.
func (fh *FileHandle) allocateFresh(recordRealSize int32) error {
	if fh.cached != nil {
		fh.cached.Close()
		fh.cached = nil
	}

	fr, err := fh.pool.AllocatePage(fh.fileID)
	if err != nil {
		return err
	}

	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.InitEmpty(fr.PageNum(), recordRealSize); err != nil {
		if uerr := fh.pool.UnpinPage(fh.fileID, fr.PageNum()); uerr != nil {
			rmlog.Page(fh.fileID, fr.PageNum()).WithError(uerr).Warn("unpin after failed init")
		}
		return err
	}
	// InitEmpty re-pins the page through its own Open call; the allocator's
	// raw pin must be released once so the page ends up pinned exactly
	// once, owned by ps.
	if err := fh.pool.UnpinPage(fh.fileID, fr.PageNum()); err != nil {
		rmlog.Page(fh.fileID, fr.PageNum()).WithError(err).Warn("unpin after init failed")
	}

	fh.cached = ps
	return nil
}

// insertOversized compresses data, splits it across a freshly allocated
// two-page chain and returns the head page's RID. The head is linked to
// the tail only after both pages hold their data, so a failure
// partway through never leaves a head page pointing at a page that was
// never written. The head page is allocated before the tail, so in the
// common case (no intervening disposal reusing a lower page number) the
// head's page number is lower than the tail's, matching Scanner's
// forward linear walk and avoiding the out-of-order tail visit its
// scanned bit-set exists to handle.
func (fh *FileHandle) insertOversized(data []byte, recordRealSize int32) (storage.RID, error) {
	if recordRealSize > 2*storage.Half {
		return storage.RID{}, rmerrors.ErrRecordTooLarge
	}

	payload := fh.codec.Compress(data)
	if len(payload) > oversizedMax {
		return storage.RID{}, rmerrors.ErrRecordTooLarge
	}

	headPayload := make([]byte, headPageRealSize)
	storage.PutChainHead(headPayload, byte(fh.codec.Tag()), int32(len(payload)))
	n := copy(headPayload[storage.ChainHeadOverhead:], payload)

	tailPayload := make([]byte, storage.Half)
	copy(tailPayload, payload[n:])

	headPage, err := fh.initChainPage(headPageRealSize)
	if err != nil {
		return storage.RID{}, err
	}
	defer headPage.Close()

	headRID, err := headPage.Insert(headPayload)
	if err != nil {
		return storage.RID{}, err
	}

	tailPage, err := fh.initChainPage(storage.Half)
	if err != nil {
		return storage.RID{}, err
	}
	defer tailPage.Close()

	if _, err := tailPage.Insert(tailPayload); err != nil {
		return storage.RID{}, err
	}

	if err := headPage.SetChainLink(tailPage.PageNum()); err != nil {
		return storage.RID{}, err
	}

	// The chain's pages are never kept as fh.cached: a chain page is
	// always full after its one insert, so caching it would never help a
	// later small-record insert find room.
	return headRID, nil
}

// initChainPage allocates and initializes one page of an oversized chain
// with the given record_real_size, unpinning the allocator's own pin.
func (fh *FileHandle) initChainPage(realSize int32) (*pageslot.PageSlot, error) {
	fr, err := fh.pool.AllocatePage(fh.fileID)
	if err != nil {
		return nil, err
	}
	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.InitEmpty(fr.PageNum(), realSize); err != nil {
		if uerr := fh.pool.UnpinPage(fh.fileID, fr.PageNum()); uerr != nil {
			rmlog.Page(fh.fileID, fr.PageNum()).WithError(uerr).Warn("unpin after failed init")
		}
		return nil, err
	}
	if err := fh.pool.UnpinPage(fh.fileID, fr.PageNum()); err != nil {
		rmlog.Page(fh.fileID, fr.PageNum()).WithError(err).Warn("unpin after init failed")
	}
	return ps, nil
}

// Update opens a fresh PageSlot on rec.RID.PageNum, delegates, and closes
// it. It does not special-case oversized chains: updating the head page's
// slot in place is the caller's responsibility to size correctly.
func (fh *FileHandle) Update(rec storage.Record) error {
	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.Open(int32(rec.RID.PageNum)); err != nil {
		return err
	}
	defer ps.Close()
	return ps.Update(rec)
}

// Delete opens a PageSlot on rid.PageNum. If that page is not the head of
// a chain, it delegates straight to PageSlot.Delete. Otherwise it performs
// the two-page oversized delete: the head's next_page_num is read before
// the head is deleted (deleting it may dispose the page), then the tail's
// slot 0 is deleted in turn.
func (fh *FileHandle) Delete(rid storage.RID) error {
	// Drop the insert hint if it sits on the target page: deleting the
	// page's last record disposes it, which would leave the cached
	// PageSlot holding a detached frame.
	if fh.cached != nil && fh.cached.PageNum() == int32(rid.PageNum) {
		fh.cached.Close()
		fh.cached = nil
	}

	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.Open(int32(rid.PageNum)); err != nil {
		return err
	}

	if !ps.HasNext() {
		defer ps.Close()
		return ps.Delete(rid)
	}

	tailPageNum := ps.NextPageNum()
	ps.Close()

	if err := fh.deleteChain(rid, tailPageNum); err != nil {
		return err
	}
	return nil
}

func (fh *FileHandle) deleteChain(headRID storage.RID, tailPageNum int32) error {
	head := pageslot.New(fh.pool, fh.fileID)
	if err := head.Open(int32(headRID.PageNum)); err != nil {
		return err
	}
	if err := head.Delete(headRID); err != nil {
		head.Close()
		return err
	}
	// A chain head holds exactly one record, so the delete normally
	// empties and disposes the page; close covers the case where it did
	// not so the pin cannot leak.
	head.Close()

	tail := pageslot.New(fh.pool, fh.fileID)
	if err := tail.Open(tailPageNum); err != nil {
		return err
	}
	tailRID := storage.RID{PageNum: storage.PageNum(tailPageNum), SlotNum: 0}
	return tail.Delete(tailRID)
}

// Get opens a PageSlot on rid.PageNum and delegates. For the head page of
// an oversized chain this returns only that page's slot (tag byte,
// compressed-length field and the first HALF bytes of the compressed
// payload), not the
// reassembled logical record - only Scanner joins a chain back together.
func (fh *FileHandle) Get(rid storage.RID) (storage.Record, error) {
	ps := pageslot.New(fh.pool, fh.fileID)
	if err := ps.Open(int32(rid.PageNum)); err != nil {
		return storage.Record{}, err
	}
	defer ps.Close()
	return ps.Get(rid)
}

// Package pageslot implements PageSlot: the component that owns one
// pinned page and interprets its bytes as a fixed-width slotted record
// page - a header, a bitmap free list and a slot array.
package pageslot

import (
	"github.com/jbw1046084835/recordmgr/bitset"
	"github.com/jbw1046084835/recordmgr/bufpool"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/rmlog"
	"github.com/jbw1046084835/recordmgr/storage"
)

// header field byte offsets, each storage.Int32Size wide.
const (
	offRecordNum = iota * storage.Int32Size
	offRecordCapacity
	offRecordRealSize
	offRecordSize
	offFirstRecordOffset
	offHasNext
	offNextPageNum
	// HeaderSize is the fixed size of a PageHeader.
	HeaderSize
)

// PageSlot wraps a single pinned page and interprets its bytes as
// header + bitmap + slot array. It exclusively owns the pin on the page
// it holds: the pin is released on Close (or on a delete that empties the
// page) exactly once.
type PageSlot struct {
	pool    *bufpool.Pool
	fileID  string
	pageNum int32
	frame   *bufpool.Frame

	capacity int
	realSize int32
	slotSize int32
	firstOff int32
}

// New returns a PageSlot bound to pool/fileID, not yet open.
func New(pool *bufpool.Pool, fileID string) *PageSlot {
	return &PageSlot{pool: pool, fileID: fileID}
}

// IsOpen reports whether this PageSlot currently holds a pin.
func (p *PageSlot) IsOpen() bool {
	return p.frame != nil
}

// PageNum returns the page number this PageSlot is bound to. Valid only
// while IsOpen.
func (p *PageSlot) PageNum() int32 {
	return p.pageNum
}

// Open pins pageNum via the pool and maps the header/bitmap onto its
// bytes. Fails with ErrAlreadyOpen if this PageSlot already holds a pin.
func (p *PageSlot) Open(pageNum int32) error {
	if p.IsOpen() {
		return rmerrors.ErrAlreadyOpen
	}

	fr, err := p.pool.GetThisPage(p.fileID, pageNum)
	if err != nil {
		return rmerrors.Wrapf(err, "open page %d", pageNum)
	}

	p.frame = fr
	p.pageNum = pageNum
	p.loadHeaderCache()
	return nil
}

// InitEmpty pins pageNum and overwrites its header and bitmap: derives
// record_size/record_capacity/first_record_offset from recordRealSize,
// zeroes the bitmap, sets has_next=0, next_page_num=-1, record_num=0, and
// marks the page dirty.
func (p *PageSlot) InitEmpty(pageNum int32, recordRealSize int32) error {
	if p.IsOpen() {
		return rmerrors.ErrAlreadyOpen
	}

	fr, err := p.pool.GetThisPage(p.fileID, pageNum)
	if err != nil {
		return rmerrors.Wrapf(err, "init empty page %d", pageNum)
	}

	pageSize := len(fr.Data())
	if recordRealSize <= 0 || int(recordRealSize) >= pageSize-HeaderSize-1 {
		p.pool.UnpinPage(p.fileID, pageNum)
		return rmerrors.Wrapf(rmerrors.ErrRecordTooLarge,
			"record_real_size %d out of range for page size %d", recordRealSize, pageSize)
	}

	recordSize := storage.Align8(int(recordRealSize))
	capacity := capacityFor(pageSize, HeaderSize, recordSize)
	if capacity < 1 {
		p.pool.UnpinPage(p.fileID, pageNum)
		return rmerrors.Wrapf(rmerrors.ErrRecordTooLarge,
			"record_real_size %d yields zero capacity on a %d byte page", recordRealSize, pageSize)
	}

	bitmapLen := bitset.ByteLen(capacity)
	firstOff := storage.Align8(HeaderSize + bitmapLen)

	buf := fr.Data()
	storage.PutInt32(buf[offRecordNum:], 0)
	storage.PutInt32(buf[offRecordCapacity:], int32(capacity))
	storage.PutInt32(buf[offRecordRealSize:], recordRealSize)
	storage.PutInt32(buf[offRecordSize:], int32(recordSize))
	storage.PutInt32(buf[offFirstRecordOffset:], int32(firstOff))
	storage.PutInt32(buf[offHasNext:], 0)
	storage.PutInt32(buf[offNextPageNum:], -1)

	bitmap := buf[HeaderSize : HeaderSize+bitmapLen]
	for i := range bitmap {
		bitmap[i] = 0
	}

	if err := p.pool.MarkDirty(p.fileID, pageNum); err != nil {
		rmlog.Page(p.fileID, pageNum).WithError(err).Warn("mark dirty failed after init_empty")
	}

	p.frame = fr
	p.pageNum = pageNum
	p.loadHeaderCache()
	return nil
}

// capacityFor computes the largest C such that
// C*recordSize + ceil(C/8) <= pageSize - headerSize - 1.
func capacityFor(pageSize, headerSize, recordSize int) int {
	budget := pageSize - headerSize - 1
	if budget <= 0 {
		return 0
	}
	c := 0
	for {
		next := c + 1
		if next*recordSize+bitset.ByteLen(next) > budget {
			break
		}
		c = next
	}
	return c
}

// loadHeaderCache reads the header fields into the PageSlot's cache so
// hot accessors do not re-decode bytes on every call.
func (p *PageSlot) loadHeaderCache() {
	buf := p.frame.Data()
	p.capacity = int(storage.Int32(buf[offRecordCapacity:]))
	p.realSize = storage.Int32(buf[offRecordRealSize:])
	p.slotSize = storage.Int32(buf[offRecordSize:])
	p.firstOff = storage.Int32(buf[offFirstRecordOffset:])
}

// Close unpins the page (best effort - logs if the pool errors) and
// clears internal state. Idempotent.
func (p *PageSlot) Close() {
	if !p.IsOpen() {
		return
	}
	if err := p.pool.UnpinPage(p.fileID, p.pageNum); err != nil {
		rmlog.Page(p.fileID, p.pageNum).WithError(err).Warn("unpin failed on close")
	}
	p.frame = nil
}

func (p *PageSlot) bitmap() bitset.Bitset {
	buf := p.frame.Data()
	bitmapLen := bitset.ByteLen(p.capacity)
	return bitset.New(buf[HeaderSize:HeaderSize+bitmapLen], p.capacity)
}

func (p *PageSlot) recordNum() int32 {
	return storage.Int32(p.frame.Data()[offRecordNum:])
}

func (p *PageSlot) setRecordNum(n int32) {
	storage.PutInt32(p.frame.Data()[offRecordNum:], n)
}

// IsFull reports whether record_num equals record_capacity.
func (p *PageSlot) IsFull() bool {
	return int(p.recordNum()) >= p.capacity
}

// HasNext reports the page's has_next flag.
func (p *PageSlot) HasNext() bool {
	return storage.Int32(p.frame.Data()[offHasNext:]) == 1
}

// NextPageNum returns the page's next_page_num field.
func (p *PageSlot) NextPageNum() int32 {
	return storage.Int32(p.frame.Data()[offNextPageNum:])
}

// SetChainLink sets has_next=1 and next_page_num=tail, marking this page
// as the head of a two-page oversized record chain.
func (p *PageSlot) SetChainLink(tail int32) error {
	buf := p.frame.Data()
	storage.PutInt32(buf[offHasNext:], 1)
	storage.PutInt32(buf[offNextPageNum:], tail)
	return p.markDirty()
}

// RecordRealSize returns the logical record width this page was
// initialized with.
func (p *PageSlot) RecordRealSize() int32 {
	return p.realSize
}

func (p *PageSlot) markDirty() error {
	if err := p.pool.MarkDirty(p.fileID, p.pageNum); err != nil {
		rmlog.Page(p.fileID, p.pageNum).WithError(err).Warn("mark dirty failed")
		return err
	}
	return nil
}

func (p *PageSlot) slotOffset(slot int) int {
	return int(p.firstOff) + slot*int(p.slotSize)
}

// Insert finds the lowest unset bit, sets it, copies exactly
// record_real_size bytes from data into that slot, marks the page dirty,
// and returns the slot's RID. Fails with ErrPageFull if the page is at
// capacity.
func (p *PageSlot) Insert(data []byte) (storage.RID, error) {
	if p.IsFull() {
		return storage.RID{}, rmerrors.ErrPageFull
	}

	bm := p.bitmap()
	slot := bm.LowestUnset()
	if slot < 0 {
		return storage.RID{}, rmerrors.ErrPageFull
	}
	bm.Set(slot)
	p.setRecordNum(p.recordNum() + 1)

	off := p.slotOffset(slot)
	dst := p.frame.Data()[off : off+int(p.realSize)]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, data)

	if err := p.markDirty(); err != nil {
		// logged inside markDirty; the in-memory mutation already
		// succeeded and durability is the buffer pool's responsibility.
		_ = err
	}

	return storage.RID{PageNum: storage.PageNum(p.pageNum), SlotNum: storage.SlotNum(slot)}, nil
}

func (p *PageSlot) checkSlot(slot int32) error {
	if slot < 0 || int(slot) >= p.capacity {
		return rmerrors.ErrInvalidArgument
	}
	return nil
}

// Update overwrites record_real_size bytes at rec.RID.SlotNum with
// rec.Data. Requires the slot to be in range (else ErrInvalidArgument)
// and set (else ErrRecordNotExist).
func (p *PageSlot) Update(rec storage.Record) error {
	slot := int32(rec.RID.SlotNum)
	if err := p.checkSlot(slot); err != nil {
		return err
	}
	if !p.bitmap().Test(int(slot)) {
		return rmerrors.ErrRecordNotExist
	}

	off := p.slotOffset(int(slot))
	dst := p.frame.Data()[off : off+int(p.realSize)]
	copy(dst, rec.Data)

	return p.markDirty()
}

// Delete clears the slot's bit, decrements record_num, and resets
// has_next/next_page_num only when the page becomes empty. If record_num
// reaches 0, the page is closed and disposed via the pool; the PageSlot
// must be reopened before further use.
func (p *PageSlot) Delete(rid storage.RID) error {
	slot := int32(rid.SlotNum)
	if err := p.checkSlot(slot); err != nil {
		return err
	}
	if !p.bitmap().Test(int(slot)) {
		return rmerrors.ErrRecordNotExist
	}

	p.bitmap().Clear(int(slot))
	remaining := p.recordNum() - 1
	p.setRecordNum(remaining)

	if remaining == 0 {
		buf := p.frame.Data()
		storage.PutInt32(buf[offHasNext:], 0)
		storage.PutInt32(buf[offNextPageNum:], -1)
	}

	if err := p.markDirty(); err != nil {
		_ = err
	}

	if remaining == 0 {
		pageNum := p.pageNum
		p.Close()
		if err := p.pool.DisposePage(p.fileID, pageNum); err != nil {
			return rmerrors.Wrapf(err, "dispose emptied page %d", pageNum)
		}
	}

	return nil
}

// Get returns the record_real_size bytes stored at rid. The returned
// slice is a copy: it does not alias the pinned page's bytes.
func (p *PageSlot) Get(rid storage.RID) (storage.Record, error) {
	slot := int32(rid.SlotNum)
	if err := p.checkSlot(slot); err != nil {
		return storage.Record{}, rmerrors.ErrInvalidRID
	}
	if !p.bitmap().Test(int(slot)) {
		return storage.Record{}, rmerrors.ErrInvalidRID
	}

	off := p.slotOffset(int(slot))
	src := p.frame.Data()[off : off+int(p.realSize)]
	data := make([]byte, len(src))
	copy(data, src)

	return storage.Record{RID: rid, Data: data}, nil
}

// IterFrom returns the lowest set bit strictly greater than slotNumExclusive
// as a Record, or ErrEndOfPage if none exists. Pass -1 to start from the
// first slot (GetFirst).
func (p *PageSlot) IterFrom(slotNumExclusive int32) (storage.Record, error) {
	next := p.bitmap().LowestSetAfter(int(slotNumExclusive))
	if next < 0 {
		return storage.Record{}, rmerrors.ErrEndOfPage
	}
	return p.Get(storage.RID{PageNum: storage.PageNum(p.pageNum), SlotNum: storage.SlotNum(next)})
}

// GetFirst is IterFrom(-1).
func (p *PageSlot) GetFirst() (storage.Record, error) {
	return p.IterFrom(-1)
}

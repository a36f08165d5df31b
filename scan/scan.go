// Package scan implements Scanner: a stateful cursor over every live
// record of an open file, transparently rejoining oversized two-page
// chains and skipping pages a chain has already visited out of order.
package scan

import (
	"github.com/jbw1046084835/recordmgr/bitset"
	"github.com/jbw1046084835/recordmgr/bufpool"
	"github.com/jbw1046084835/recordmgr/codec"
	"github.com/jbw1046084835/recordmgr/pageslot"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/storage"
)

// Filter decides whether a record should be delivered by the scan. A nil
// Filter matches every record. Implementations must not retain rec past
// the call. rec.Data is a copy of the stored bytes, not an alias of a
// pinned page buffer.
type Filter func(rec *storage.Record) bool

// Scanner iterates every live record of one open file. It is not safe for
// concurrent use.
type Scanner struct {
	pool   *bufpool.Pool
	fileID string
	filter Filter

	open      bool
	pageCount int32

	cached *pageslot.PageSlot
	cursor storage.RID

	scannedBuf []byte
	scanned    bitset.Bitset

	// oversizedThisScan is set once a chain head has been visited during
	// the current scan and cleared only when the scan is rewound
	// (resetCursor); it tells the small-record path in GetNext to jump via the
	// unscanned-page search on EndOfPage instead of walking linearly,
	// since a chain may have left later page numbers already scanned.
	oversizedThisScan bool
}

// New returns a Scanner bound to pool/fileID, not yet open.
func New(pool *bufpool.Pool, fileID string) *Scanner {
	return &Scanner{pool: pool, fileID: fileID}
}

// OpenScan resets all state and reads page_count once for this scan.
// filter may be nil to match every record.
func (s *Scanner) OpenScan(filter Filter) error {
	count, err := s.pool.GetPageCount(s.fileID)
	if err != nil {
		return err
	}

	s.filter = filter
	s.pageCount = count
	s.open = true
	s.resetCursor()
	return nil
}

// resetCursor rewinds the scan to page 1 with a fresh scanned bit-set,
// without touching the configured filter or re-reading page_count. Shared
// by OpenScan and GetFirst so a GetNext issued without an explicit
// GetFirst never lands on the reserved page 0.
func (s *Scanner) resetCursor() {
	s.oversizedThisScan = false
	s.scannedBuf = make([]byte, bitset.ByteLen(int(s.pageCount)))
	s.scanned = bitset.New(s.scannedBuf, int(s.pageCount))
	s.cursor = storage.RID{PageNum: 1, SlotNum: -1}
	if s.cached != nil {
		s.cached.Close()
		s.cached = nil
	}
}

// CloseScan clears all state. Idempotent.
func (s *Scanner) CloseScan() {
	if s.cached != nil {
		s.cached.Close()
		s.cached = nil
	}
	s.open = false
}

// GetFirst rewinds the cursor to the start of the file and returns the
// first record a scan (with the currently configured filter) would
// deliver. hasText reports whether the record was assembled from a
// two-page chain.
func (s *Scanner) GetFirst() (storage.Record, bool, error) {
	if !s.open {
		return storage.Record{}, false, rmerrors.ErrClosed
	}
	s.resetCursor()
	return s.GetNext()
}

// GetNext advances the cursor to the next record matching the filter, or
// returns ErrEndOfFile once every page has been visited.
func (s *Scanner) GetNext() (storage.Record, bool, error) {
	if !s.open {
		return storage.Record{}, false, rmerrors.ErrClosed
	}
	if s.pageCount <= 1 {
		return storage.Record{}, false, rmerrors.ErrEndOfFile
	}

	for {
		if int32(s.cursor.PageNum) >= s.pageCount {
			if !s.jumpToUnscanned() {
				return storage.Record{}, false, rmerrors.ErrEndOfFile
			}
			continue
		}

		if s.cached == nil || s.cached.PageNum() != int32(s.cursor.PageNum) {
			if err := s.retarget(int32(s.cursor.PageNum)); err != nil {
				if rmerrors.Is(err, rmerrors.ErrInvalidPageNum) {
					s.scanned.Set(int(s.cursor.PageNum))
					s.cursor = storage.RID{PageNum: s.cursor.PageNum + 1, SlotNum: -1}
					continue
				}
				return storage.Record{}, false, err
			}
		}

		if s.cached.HasNext() {
			rec, hasText, err, deliver := s.assembleChain()
			if err != nil {
				return storage.Record{}, false, err
			}
			if deliver {
				return rec, hasText, nil
			}
			continue
		}

		rec, err := s.cached.IterFrom(int32(s.cursor.SlotNum))
		if err == nil {
			s.cursor = storage.RID{PageNum: s.cursor.PageNum, SlotNum: rec.RID.SlotNum}
			if s.filter == nil || s.filter(&rec) {
				return rec, false, nil
			}
			continue
		}
		if !rmerrors.Is(err, rmerrors.ErrEndOfPage) {
			return storage.Record{}, false, err
		}

		if s.oversizedThisScan {
			s.scanned.Set(int(s.cursor.PageNum))
			if !s.jumpToUnscanned() {
				return storage.Record{}, false, rmerrors.ErrEndOfFile
			}
			continue
		}
		s.scanned.Set(int(s.cursor.PageNum))
		s.cursor = storage.RID{PageNum: s.cursor.PageNum + 1, SlotNum: -1}
	}
}

// retarget closes the currently cached page (if any) and opens pageNum.
func (s *Scanner) retarget(pageNum int32) error {
	if s.cached != nil {
		s.cached.Close()
		s.cached = nil
	}
	ps := pageslot.New(s.pool, s.fileID)
	if err := ps.Open(pageNum); err != nil {
		return err
	}
	s.cached = ps
	return nil
}

// jumpToUnscanned points the cursor at the lowest-numbered unscanned data
// page, or reports false if every page has been scanned.
func (s *Scanner) jumpToUnscanned() bool {
	for i := 1; i < int(s.pageCount); i++ {
		if !s.scanned.Test(i) {
			s.cursor = storage.RID{PageNum: storage.PageNum(i), SlotNum: -1}
			return true
		}
	}
	return false
}

// assembleChain handles the current cached page being the head of a
// two-page chain: it reads the head's live slot, marks both pages
// scanned, opens the tail, joins and decompresses the payload, and
// applies the filter. deliver reports whether rec/hasText should be
// returned to the caller; when false, the caller should loop again (the
// cursor has already been advanced).
func (s *Scanner) assembleChain() (rec storage.Record, hasText bool, err error, deliver bool) {
	headSlot, err := s.cached.IterFrom(int32(s.cursor.SlotNum))
	if err != nil {
		if rmerrors.Is(err, rmerrors.ErrEndOfPage) {
			return storage.Record{}, false, s.skipChain(), false
		}
		return storage.Record{}, false, err, false
	}
	s.cursor = storage.RID{PageNum: s.cursor.PageNum, SlotNum: headSlot.RID.SlotNum}

	headPageNum := int32(s.cursor.PageNum)
	tailPageNum := s.cached.NextPageNum()
	headData := headSlot.Data

	s.scanned.Set(int(headPageNum))
	s.scanned.Set(int(tailPageNum))
	s.oversizedThisScan = true

	s.cached.Close()
	s.cached = nil

	tail := pageslot.New(s.pool, s.fileID)
	if err := tail.Open(tailPageNum); err != nil {
		return storage.Record{}, false, err, false
	}
	defer tail.Close()

	tailSlot, err := tail.IterFrom(-1)
	if err != nil {
		if rmerrors.Is(err, rmerrors.ErrEndOfPage) {
			return storage.Record{}, false, s.skipChain(), false
		}
		return storage.Record{}, false, err, false
	}

	joined := make([]byte, len(headData)-storage.ChainHeadOverhead+len(tailSlot.Data))
	n := copy(joined, headData[storage.ChainHeadOverhead:])
	copy(joined[n:], tailSlot.Data)

	payloadLen := storage.ChainHeadPayloadLen(headData)
	if payloadLen < 0 || int(payloadLen) > len(joined) {
		return storage.Record{}, false, rmerrors.Wrapf(rmerrors.ErrInvalidArgument,
			"corrupt chain head at page %d: payload length %d", headPageNum, payloadLen), false
	}

	c, err := codec.ByTag(codec.Tag(storage.ChainHeadTag(headData)))
	if err != nil {
		return storage.Record{}, false, err, false
	}
	data, err := c.Decompress(joined[:payloadLen])
	if err != nil {
		return storage.Record{}, false, err, false
	}

	assembled := storage.Record{RID: tailSlot.RID, Data: data}
	if s.filter != nil && !s.filter(&assembled) {
		if !s.jumpToUnscanned() {
			return storage.Record{}, false, rmerrors.ErrEndOfFile, false
		}
		return storage.Record{}, false, nil, false
	}

	return assembled, true, nil, true
}

// skipChain jumps past the current (malformed or already-drained) chain
// via the unscanned-page search, translating "nothing left" into
// ErrEndOfFile so callers can treat it uniformly as an error to surface.
func (s *Scanner) skipChain() error {
	if !s.jumpToUnscanned() {
		return rmerrors.ErrEndOfFile
	}
	return nil
}

package pageslot

import (
	"bytes"
	"testing"

	"github.com/jbw1046084835/recordmgr/bufpool"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/storage"
	"github.com/jbw1046084835/recordmgr/test"
)

const fileID = test.FileID

func newPool(t *testing.T) *bufpool.Pool {
	return test.MakeDefaultPool(t)
}

func allocInit(t *testing.T, pool *bufpool.Pool, realSize int32) *PageSlot {
	t.Helper()
	fr, err := pool.AllocatePage(fileID)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	ps := New(pool, fileID)
	if err := ps.InitEmpty(fr.PageNum(), realSize); err != nil {
		t.Fatalf("InitEmpty: %v", err)
	}
	if err := pool.UnpinPage(fileID, fr.PageNum()); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	return ps
}

func TestInsertGetRoundTrip(t *testing.T) {
	pool := newPool(t)
	ps := allocInit(t, pool, 16)
	defer ps.Close()

	data := bytes.Repeat([]byte{0x7a}, 16)
	rid, err := ps.Insert(data)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := ps.Get(rid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(rec.Data, data) {
		t.Fatalf("round trip mismatch: got %x want %x", rec.Data, data)
	}
}

func TestInsertFillsToCapacity(t *testing.T) {
	pool := newPool(t)
	ps := allocInit(t, pool, 8)
	defer ps.Close()

	count := 0
	for {
		_, err := ps.Insert(bytes.Repeat([]byte{byte(count)}, 8))
		if err != nil {
			if rmerrors.Is(err, rmerrors.ErrPageFull) {
				break
			}
			t.Fatalf("unexpected insert error: %v", err)
		}
		count++
		if count > 10000 {
			t.Fatalf("insert never reported page full")
		}
	}

	if !ps.IsFull() {
		t.Fatalf("expected page to report full after PageFull error")
	}
}

func TestDeleteThenReinsert(t *testing.T) {
	pool := newPool(t)
	ps := allocInit(t, pool, 8)

	rid, err := ps.Insert([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := ps.Delete(rid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// the page held exactly one record, so Delete emptied and disposed it:
	// the PageSlot must be reopened before further use.
	if ps.IsOpen() {
		t.Fatalf("expected PageSlot to be closed after emptying delete")
	}

	// the disposed page number is handed out again and its first slot is
	// free for a new record.
	ps2 := allocInit(t, pool, 8)
	defer ps2.Close()
	again, err := ps2.Insert([]byte("ijklmnop"))
	if err != nil {
		t.Fatalf("Insert after dispose: %v", err)
	}
	if again != rid {
		t.Fatalf("expected reinsert to reuse %v, got %v", rid, again)
	}
}

func TestUpdateAndDeleteErrors(t *testing.T) {
	pool := newPool(t)
	ps := allocInit(t, pool, 8)
	defer ps.Close()

	rid, err := ps.Insert([]byte("12345678"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	bad := storage.RID{PageNum: rid.PageNum, SlotNum: rid.SlotNum + 100}
	if err := ps.Update(storage.Record{RID: bad, Data: []byte("xxxxxxxx")}); !rmerrors.Is(err, rmerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if err := ps.Delete(bad); !rmerrors.Is(err, rmerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument from Delete, got %v", err)
	}

	if err := ps.Delete(rid); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ps2 := New(pool, fileID)
	if err := ps2.Open(int32(rid.PageNum)); !rmerrors.Is(err, rmerrors.ErrInvalidPageNum) {
		t.Fatalf("expected disposed page to be invalid, got %v", err)
	}
}

func TestIterFromAndGetFirst(t *testing.T) {
	pool := newPool(t)
	ps := allocInit(t, pool, 4)
	defer ps.Close()

	r1, _ := ps.Insert([]byte("aaaa"))
	_, _ = ps.Insert([]byte("bbbb"))

	first, err := ps.GetFirst()
	if err != nil {
		t.Fatalf("GetFirst: %v", err)
	}
	if first.RID != r1 {
		t.Fatalf("expected first record to be %v, got %v", r1, first.RID)
	}

	second, err := ps.IterFrom(int32(first.RID.SlotNum))
	if err != nil {
		t.Fatalf("IterFrom: %v", err)
	}
	if !bytes.Equal(second.Data, []byte("bbbb")) {
		t.Fatalf("expected second record bbbb, got %s", second.Data)
	}

	if _, err := ps.IterFrom(int32(second.RID.SlotNum)); !rmerrors.Is(err, rmerrors.ErrEndOfPage) {
		t.Fatalf("expected ErrEndOfPage, got %v", err)
	}
}

func TestInitEmptyRecordTooLarge(t *testing.T) {
	pool := newPool(t)
	fr, err := pool.AllocatePage(fileID)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if err := pool.UnpinPage(fileID, fr.PageNum()); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}

	ps := New(pool, fileID)
	if err := ps.InitEmpty(fr.PageNum(), 10000); !rmerrors.Is(err, rmerrors.ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
}

package bufpool

import (
	"syscall"
	"testing"

	"github.com/jbw1046084835/recordmgr/rmerrors"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	dir := t.TempDir()
	return New(dir, 512, 4)
}

func TestAllocateAndGetThisPage(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Open("t1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	fr, err := p.AllocatePage("t1")
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if fr.PageNum() != 1 {
		t.Fatalf("expected first allocated page to be 1, got %d", fr.PageNum())
	}

	copy(fr.Data(), []byte("hello"))
	if err := p.MarkDirty("t1", fr.PageNum()); err != nil {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := p.UnpinPage("t1", fr.PageNum()); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}

	fr2, err := p.GetThisPage("t1", 1)
	if err != nil {
		t.Fatalf("GetThisPage: %v", err)
	}
	if string(fr2.Data()[:5]) != "hello" {
		t.Fatalf("expected page contents to survive unpin/refetch, got %q", fr2.Data()[:5])
	}
}

func TestGetThisPageInvalid(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Open("t1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := p.GetThisPage("t1", 5); !rmerrors.Is(err, rmerrors.ErrInvalidPageNum) {
		t.Fatalf("expected ErrInvalidPageNum, got %v", err)
	}
}

func TestDisposeThenReuse(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Open("t1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	fr, err := p.AllocatePage("t1")
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	pageNum := fr.PageNum()

	if err := p.UnpinPage("t1", pageNum); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if err := p.DisposePage("t1", pageNum); err != nil {
		t.Fatalf("DisposePage: %v", err)
	}

	if _, err := p.GetThisPage("t1", pageNum); !rmerrors.Is(err, rmerrors.ErrInvalidPageNum) {
		t.Fatalf("expected disposed page to be invalid, got %v", err)
	}

	fr2, err := p.AllocatePage("t1")
	if err != nil {
		t.Fatalf("AllocatePage after dispose: %v", err)
	}
	if fr2.PageNum() != pageNum {
		t.Fatalf("expected disposed page number %d to be reused, got %d", pageNum, fr2.PageNum())
	}

	count, err := p.GetPageCount("t1")
	if err != nil {
		t.Fatalf("GetPageCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected page count to stay at 2 after reuse, got %d", count)
	}
}

func TestOpenLockedByOther(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, 512, 4)
	if _, err := p.Open("locked"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// simulate a second process racing to lock the same heap file.
	path := dir + "/locked.heap"
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		t.Fatalf("syscall.Open: %v", err)
	}
	defer syscall.Close(fd)

	err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		t.Fatalf("expected the file to already be locked by the pool")
	}
}

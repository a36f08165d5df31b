// test package includes common methods to run tests.
// It should not be included in release builds
package test

import (
	"testing"

	"github.com/jbw1046084835/recordmgr/bufpool"
)

const (
	// FileID is the file id tests open their heap file under.
	FileID = "testfile"

	defaultPageSize = 512
	framesAvailable = 32
)

// MakePool returns a Pool rooted in a per-test temp dir with FileID
// already open.
func MakePool(t *testing.T, pageSize int) *bufpool.Pool {
	t.Helper()
	p := bufpool.New(t.TempDir(), pageSize, framesAvailable)
	if _, err := p.Open(FileID); err != nil {
		t.Fatalf("open heap file: %v", err)
	}
	return p
}

// MakeDefaultPool is MakePool with a small page size that keeps
// per-page capacities low enough for fill-the-page tests to stay fast.
func MakeDefaultPool(t *testing.T) *bufpool.Pool {
	return MakePool(t, defaultPageSize)
}

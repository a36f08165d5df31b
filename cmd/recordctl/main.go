// recordctl is a small line-oriented harness for exercising the record
// manager against a real heap file on disk.
//
// Commands, one per line:
//
//	insert <text>        store <text> as a record (chained if oversized)
//	get <page> <slot>    print the record at that RID
//	delete <page> <slot> delete the record (chain-aware)
//	scan                 print every live record in scan order
//	exit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbw1046084835/recordmgr/bufpool"
	"github.com/jbw1046084835/recordmgr/codec"
	"github.com/jbw1046084835/recordmgr/filehandle"
	"github.com/jbw1046084835/recordmgr/rmerrors"
	"github.com/jbw1046084835/recordmgr/rmlog"
	"github.com/jbw1046084835/recordmgr/scan"
	"github.com/jbw1046084835/recordmgr/storage"
)

func main() {
	dir := flag.String("dir", ".", "directory holding the heap files")
	fileID := flag.String("file", "records", "file id to open")
	pageSize := flag.Int("pagesize", bufpool.DefaultPageSize, "page size in bytes")
	codecName := flag.String("codec", "none", "codec for oversized records: none, snappy, lz4")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		rmlog.Configure(logrus.DebugLevel, nil)
	} else {
		rmlog.Configure(logrus.WarnLevel, nil)
	}

	if err := run(*dir, *fileID, *pageSize, *codecName); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir, fileID string, pageSize int, codecName string) error {
	c, err := codecByName(codecName)
	if err != nil {
		return err
	}

	pool := bufpool.New(dir, pageSize, bufpool.DefaultCapacity)
	if _, err := pool.Open(fileID); err != nil {
		return err
	}
	defer func() {
		if err := pool.FlushAll(fileID); err != nil {
			fmt.Fprintf(os.Stderr, "flush: %s\n", err)
		}
		pool.Close(fileID)
	}()

	fh := filehandle.New(pool, fileID)
	if err := fh.Open(); err != nil {
		return err
	}
	defer fh.Close()
	fh.SetCodec(c)

	in := bufio.NewScanner(os.Stdin)
	fmt.Printf("recordctl: file %q, page size %d, codec %s\n", fileID, pageSize, codecName)

	for {
		fmt.Print("> ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}

		if err := exec(pool, fh, fileID, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func codecByName(name string) (codec.Codec, error) {
	switch name {
	case "none":
		return codec.ByTag(codec.None)
	case "snappy":
		return codec.ByTag(codec.Snappy)
	case "lz4":
		return codec.ByTag(codec.LZ4)
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func exec(pool *bufpool.Pool, fh *filehandle.FileHandle, fileID, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "insert":
		if len(args) == 0 {
			return fmt.Errorf("usage: insert <text>")
		}
		data := []byte(strings.Join(args, " "))
		rid, err := fh.Insert(data, int32(len(data)))
		if err != nil {
			return err
		}
		fmt.Printf("inserted at {%d, %d}\n", rid.PageNum, rid.SlotNum)
		return nil

	case "get":
		rid, err := parseRID(args)
		if err != nil {
			return err
		}
		rec, err := fh.Get(rid)
		if err != nil {
			return err
		}
		fmt.Printf("{%d, %d}: %q\n", rec.RID.PageNum, rec.RID.SlotNum, rec.Data)
		return nil

	case "delete":
		rid, err := parseRID(args)
		if err != nil {
			return err
		}
		if err := fh.Delete(rid); err != nil {
			return err
		}
		fmt.Printf("deleted {%d, %d}\n", rid.PageNum, rid.SlotNum)
		return nil

	case "scan":
		return runScan(pool, fileID)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseRID(args []string) (storage.RID, error) {
	if len(args) != 2 {
		return storage.RID{}, fmt.Errorf("usage: <cmd> <page> <slot>")
	}
	page, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return storage.RID{}, fmt.Errorf("bad page number %q", args[0])
	}
	slot, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return storage.RID{}, fmt.Errorf("bad slot number %q", args[1])
	}
	return storage.RID{PageNum: storage.PageNum(page), SlotNum: storage.SlotNum(slot)}, nil
}

func runScan(pool *bufpool.Pool, fileID string) error {
	sc := scan.New(pool, fileID)
	if err := sc.OpenScan(nil); err != nil {
		return err
	}
	defer sc.CloseScan()

	n := 0
	rec, chained, err := sc.GetFirst()
	for ; err == nil; rec, chained, err = sc.GetNext() {
		kind := "record"
		if chained {
			kind = "chained record"
		}
		fmt.Printf("{%d, %d} %s, %d bytes: %q\n", rec.RID.PageNum, rec.RID.SlotNum, kind, len(rec.Data), preview(rec.Data))
		n++
	}
	if !rmerrors.Is(err, rmerrors.ErrEndOfFile) {
		return err
	}
	fmt.Printf("%d records\n", n)
	return nil
}

func preview(data []byte) []byte {
	const max = 64
	if len(data) <= max {
		return data
	}
	return data[:max]
}

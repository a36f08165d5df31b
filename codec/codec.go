// Package codec implements the pluggable compression applied to oversized
// record payloads before FileHandle splits them across a two-page chain.
// Each codec is named by a one-byte Tag persisted with the record, so a
// file can mix codecs across records over its lifetime.
package codec

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// Tag identifies which codec produced a compressed oversized-record
// payload. It is persisted as the first byte of the head page's slot so
// Scanner knows how to decompress the chain it just reassembled.
type Tag byte

const (
	// None stores the payload verbatim; Compress and Decompress are both
	// the identity function.
	None Tag = iota
	// Snappy compresses with github.com/golang/snappy.
	Snappy
	// LZ4 compresses with github.com/pierrec/lz4.
	LZ4
)

// Codec compresses and decompresses oversized record payloads.
type Codec interface {
	Tag() Tag
	Compress(in []byte) []byte
	Decompress(in []byte) ([]byte, error)
}

// ByTag returns the Codec matching tag, or an error if tag is unknown -
// this guards against a corrupted or foreign codec tag byte read back from
// a chain's head page.
func ByTag(tag Tag) (Codec, error) {
	switch tag {
	case None:
		return noneCodec{}, nil
	case Snappy:
		return snappyCodec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	default:
		return nil, errors.Errorf("codec: unknown tag %d", tag)
	}
}

type noneCodec struct{}

func (noneCodec) Tag() Tag                         { return None }
func (noneCodec) Compress(in []byte) []byte        { return in }
func (noneCodec) Decompress(in []byte) ([]byte, error) { return in, nil }

type snappyCodec struct{}

func (snappyCodec) Tag() Tag { return Snappy }

func (snappyCodec) Compress(in []byte) []byte {
	return snappy.Encode(nil, in)
}

func (snappyCodec) Decompress(in []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, in)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decompress")
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Tag() Tag { return LZ4 }

func (lz4Codec) Compress(in []byte) []byte {
	buf := &bytes.Buffer{}
	writer := lz4.NewWriter(buf)
	writer.NoChecksum = true
	if _, err := writer.Write(in); err != nil {
		// lz4.Writer only fails writing to an in-memory bytes.Buffer on
		// allocation failure; treat the payload as incompressible rather
		// than panicking a storage-engine call path.
		return in
	}
	if err := writer.Close(); err != nil {
		return in
	}
	return buf.Bytes()
}

func (lz4Codec) Decompress(in []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	reader := lz4.NewReader(bytes.NewReader(in))
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, errors.Wrap(err, "lz4 decompress")
	}
	return buf.Bytes(), nil
}

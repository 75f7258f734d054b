package hv5

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/marmos91/hdfive/pkg/driver"
)

// Signature marks the start of a superblock. It sits at offset 0 for
// containers without a userblock, otherwise at the userblock size.
var Signature = [8]byte{0x89, 'H', 'V', '5', '\r', '\n', 0x1a, '\n'}

const (
	// SuperblockSize is the encoded size of the superblock in bytes.
	SuperblockSize = 64

	// MaxSuperblockVersion is the newest version this implementation reads.
	MaxSuperblockVersion = 3

	// maxSignatureOffset bounds the signature scan. Userblock sizes are
	// powers of two starting at 512, so candidate offsets double.
	maxSignatureOffset = 1 << 26
)

var (
	errTooShort    = errors.New("superblock truncated")
	errNoSignature = errors.New("superblock signature missing")
	errBadChecksum = errors.New("superblock checksum mismatch")
)

// superblock is the decoded fixed-size container header.
//
// Layout (big-endian):
//
//	[0:8)   signature
//	[8]     version
//	[9]     file-space strategy code
//	[10]    free-space persistence flag
//	[11]    low version bound rank
//	[12]    high version bound rank
//	[13:16) reserved, zero
//	[16:24) free-space threshold
//	[24:32) file-space page size
//	[32:40) raw area length
//	[40:48) tree offset
//	[48:52) tree length
//	[52:60) end-of-file address
//	[60:64) CRC-32 (IEEE) over bytes [0:60)
//
// The userblock size is not stored; it is recovered from the signature
// offset when the container is opened.
type superblock struct {
	Version    uint8
	Strategy   uint8
	Persist    bool
	LibverLow  uint8
	LibverHigh uint8
	Threshold  uint64
	PageSize   uint64
	RawLen     uint64
	TreeOff    uint64
	TreeLen    uint32
	EOF        uint64
}

// encode serializes the superblock into a fresh SuperblockSize buffer.
func (sb *superblock) encode() []byte {
	buf := make([]byte, SuperblockSize)
	copy(buf[0:8], Signature[:])
	buf[8] = sb.Version
	buf[9] = sb.Strategy
	if sb.Persist {
		buf[10] = 1
	}
	buf[11] = sb.LibverLow
	buf[12] = sb.LibverHigh
	binary.BigEndian.PutUint64(buf[16:24], sb.Threshold)
	binary.BigEndian.PutUint64(buf[24:32], sb.PageSize)
	binary.BigEndian.PutUint64(buf[32:40], sb.RawLen)
	binary.BigEndian.PutUint64(buf[40:48], sb.TreeOff)
	binary.BigEndian.PutUint32(buf[48:52], sb.TreeLen)
	binary.BigEndian.PutUint64(buf[52:60], sb.EOF)
	binary.BigEndian.PutUint32(buf[60:64], crc32.ChecksumIEEE(buf[:60]))
	return buf
}

// decodeSuperblock parses and validates an encoded superblock.
func decodeSuperblock(data []byte) (superblock, error) {
	if len(data) < SuperblockSize {
		return superblock{}, errTooShort
	}
	if !bytes.Equal(data[0:8], Signature[:]) {
		return superblock{}, errNoSignature
	}
	stored := binary.BigEndian.Uint32(data[60:64])
	if stored != crc32.ChecksumIEEE(data[:60]) {
		return superblock{}, errBadChecksum
	}

	sb := superblock{
		Version:    data[8],
		Strategy:   data[9],
		Persist:    data[10] != 0,
		LibverLow:  data[11],
		LibverHigh: data[12],
		Threshold:  binary.BigEndian.Uint64(data[16:24]),
		PageSize:   binary.BigEndian.Uint64(data[24:32]),
		RawLen:     binary.BigEndian.Uint64(data[32:40]),
		TreeOff:    binary.BigEndian.Uint64(data[40:48]),
		TreeLen:    binary.BigEndian.Uint32(data[48:52]),
		EOF:        binary.BigEndian.Uint64(data[52:60]),
	}
	if sb.Version > MaxSuperblockVersion {
		return superblock{}, fmt.Errorf("unsupported superblock version %d", sb.Version)
	}
	if sb.Strategy > 2 {
		return superblock{}, fmt.Errorf("unknown file-space strategy code %d", sb.Strategy)
	}
	if sb.LibverLow > sb.LibverHigh {
		return superblock{}, fmt.Errorf("version bounds out of order: %d > %d", sb.LibverLow, sb.LibverHigh)
	}
	return sb, nil
}

// findSignature scans the candidate userblock offsets (0, 512, 1024, ...,
// doubling up to maxSignatureOffset) for the container signature. The offset
// where the signature is found is the userblock size.
func findSignature(f driver.File) (uint64, bool, error) {
	size, err := f.Size()
	if err != nil {
		return 0, false, err
	}

	var sig [len(Signature)]byte
	offset := uint64(0)
	for {
		if int64(offset)+int64(len(sig)) > size {
			return 0, false, nil
		}
		if _, err := f.ReadAt(sig[:], int64(offset)); err != nil && err != io.EOF {
			return 0, false, err
		}
		if sig == Signature {
			return offset, true, nil
		}
		if offset == 0 {
			offset = 512
		} else {
			offset *= 2
		}
		if offset > maxSignatureOffset {
			return 0, false, nil
		}
	}
}

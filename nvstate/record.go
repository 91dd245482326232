// Package nvstate persists battery state across power cycles as a small
// checksummed record in a keyed byte-blob store.
package nvstate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	recordMagic   uint32 = 0x42415431 // "BAT1"
	recordVersion uint16 = 1

	// RecordSize is the exact encoded length of a battery state record.
	RecordSize = 20
)

var (
	ErrRecordSize     = errors.New("record size mismatch")
	ErrRecordMagic    = errors.New("record magic/version mismatch")
	ErrRecordCapacity = errors.New("record capacity mismatch")
	ErrRecordCRC      = errors.New("record CRC mismatch")
)

// EncodeRecord serialises the remaining capacity into the fixed 20 byte
// record layout: magic, version, reserved, capacity (mAh), remaining
// capacity (mAh x100) and a CRC-32 over all preceding bytes. All fields are
// little-endian. The remaining capacity is clamped to [0, capacity] before
// encoding.
func EncodeRecord(remainingMAh, capacityMAh float64) []byte {
	if remainingMAh < 0 {
		remainingMAh = 0
	}
	if remainingMAh > capacityMAh {
		remainingMAh = capacityMAh
	}

	data := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(data[0:4], recordMagic)
	binary.LittleEndian.PutUint16(data[4:6], recordVersion)
	binary.LittleEndian.PutUint16(data[6:8], 0) // reserved
	binary.LittleEndian.PutUint32(data[8:12], uint32(capacityMAh+0.5))
	binary.LittleEndian.PutUint32(data[12:16], uint32(remainingMAh*100.0+0.5))
	binary.LittleEndian.PutUint32(data[16:20], crc32.ChecksumIEEE(data[:16]))
	return data
}

// DecodeRecord validates an encoded record against the configured battery
// capacity and returns the stored remaining capacity in mAh. The record is
// only trusted when the length, magic, version, embedded capacity and CRC
// all check out; each failure returns a distinct error.
//
// The capacity is embedded and checked so that a config change to a
// different battery cannot silently reinterpret a stale absolute mAh value.
func DecodeRecord(data []byte, capacityMAh float64) (float64, error) {
	if len(data) != RecordSize {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrRecordSize, RecordSize, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	version := binary.LittleEndian.Uint16(data[4:6])
	if magic != recordMagic || version != recordVersion {
		return 0, fmt.Errorf("%w: magic=0x%08X version=%d", ErrRecordMagic, magic, version)
	}

	expectedCapacity := uint32(capacityMAh + 0.5)
	storedCapacity := binary.LittleEndian.Uint32(data[8:12])
	if storedCapacity != expectedCapacity {
		return 0, fmt.Errorf("%w: expected %d mAh, stored %d mAh", ErrRecordCapacity, expectedCapacity, storedCapacity)
	}

	expectedCRC := crc32.ChecksumIEEE(data[:16])
	storedCRC := binary.LittleEndian.Uint32(data[16:20])
	if storedCRC != expectedCRC {
		return 0, fmt.Errorf("%w: expected 0x%08X, stored 0x%08X", ErrRecordCRC, expectedCRC, storedCRC)
	}

	return float64(binary.LittleEndian.Uint32(data[12:16])) / 100.0, nil
}

package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// entryOverhead is the framing size around the payload.
const entryOverhead = 8 + 1 + 4 + 4 + 8

// maxEntryData bounds a single payload; larger lengths indicate a torn write.
const maxEntryData = 1 << 20

// writeEntry frames one entry.
// Format: [LSN:8][OpType:1][DataLen:4][Data:N][Checksum:4][Timestamp:8]
func writeEntry(w *bufio.Writer, entry *Entry) error {
	var hdr [13]byte
	binary.LittleEndian.PutUint64(hdr[0:8], entry.LSN)
	hdr[8] = byte(entry.OpType)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(entry.Data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(entry.Data); err != nil {
		return err
	}

	var tail [12]byte
	binary.LittleEndian.PutUint32(tail[0:4], entry.Checksum)
	binary.LittleEndian.PutUint64(tail[4:12], uint64(entry.Timestamp))
	_, err := w.Write(tail[:])
	return err
}

// readEntry reads one framed entry. A clean end of input yields io.EOF; a
// partial frame yields io.ErrUnexpectedEOF.
func readEntry(r *bufio.Reader) (*Entry, error) {
	var hdr [13]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	entry := &Entry{
		LSN:    binary.LittleEndian.Uint64(hdr[0:8]),
		OpType: OpType(hdr[8]),
	}

	dataLen := binary.LittleEndian.Uint32(hdr[9:13])
	if dataLen > maxEntryData {
		return nil, fmt.Errorf("entry LSN=%d: data length %d exceeds limit", entry.LSN, dataLen)
	}
	entry.Data = make([]byte, dataLen)
	if _, err := io.ReadFull(r, entry.Data); err != nil {
		return nil, unexpected(err)
	}

	var tail [12]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return nil, unexpected(err)
	}
	entry.Checksum = binary.LittleEndian.Uint32(tail[0:4])
	entry.Timestamp = int64(binary.LittleEndian.Uint64(tail[4:12]))
	return entry, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

package crypto

import (
	"fmt"
	"io"

	"github.com/MKhiriev/go-doc-sync/models"
)

// File is the underlying stream a Reader decrypts: random access plus
// close. *os.File satisfies it.
type File interface {
	io.ReadSeeker
	io.Closer
}

const noBlock = ^uint64(0)

// Reader gives random access over an encrypted stream. Seeks are O(1):
// only the block containing the target position is read and decrypted.
// Reader owns the underlying file and closes it on Close.
type Reader struct {
	in  File
	key []byte

	inputLength  uint64 // ciphertext length without the nonce trailer
	finalBlockID uint64

	blockID       uint64 // next block to read from the file
	buffer        []byte // decrypted bytes of bufferBlockID
	bufferPos     int
	bufferBlockID uint64

	cleartextLength uint64
}

// NewReader opens an encrypted stream. It reads the nonce trailer to
// recover the file key; a missing or short trailer means the file was
// truncated.
func NewReader(in File, alg Algorithm, userKey []byte) (*Reader, error) {
	if err := checkKey(alg, userKey); err != nil {
		return nil, err
	}

	total, err := in.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek stream end: %w", err)
	}
	if total < FileSizeOverhead+aesMinFinalBlock {
		return nil, fmt.Errorf("encrypted stream of %d bytes: %w", total, models.ErrCorruptData)
	}
	inputLength := uint64(total) - FileSizeOverhead

	if _, err := in.Seek(int64(inputLength), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek stream trailer: %w", err)
	}
	nonce := make([]byte, KeySize)
	if _, err := io.ReadFull(in, nonce); err != nil {
		return nil, fmt.Errorf("read stream trailer: %w", models.ErrCorruptData)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind stream: %w", err)
	}

	return &Reader{
		in:              in,
		key:             deriveFileKey(userKey, nonce),
		inputLength:     inputLength,
		finalBlockID:    (inputLength - 1) / BlockSize,
		bufferBlockID:   noBlock,
		cleartextLength: noBlock,
	}, nil
}

const aesMinFinalBlock = 16

// Read implements io.Reader over the cleartext.
func (r *Reader) Read(p []byte) (int, error) {
	read := 0
	for len(p) > 0 {
		if r.bufferPos < len(r.buffer) {
			n := copy(p, r.buffer[r.bufferPos:])
			r.bufferPos += n
			p = p[n:]
			read += n
			continue
		}
		if r.blockID > r.finalBlockID {
			break
		}
		if err := r.fillBuffer(); err != nil {
			return read, err
		}
	}
	if read == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return read, nil
}

// fillBuffer reads and decrypts the next block from the file.
func (r *Reader) fillBuffer() error {
	finalBlock := r.blockID == r.finalBlockID
	readSize := uint64(BlockSize)
	if finalBlock {
		readSize = r.inputLength - r.blockID*BlockSize // don't read the trailer
	}

	ciphertext := make([]byte, readSize)
	if _, err := io.ReadFull(r.in, ciphertext); err != nil {
		return fmt.Errorf("read block %d: %w", r.blockID, models.ErrCorruptData)
	}

	plaintext, err := decryptBlock(r.key, r.blockID, ciphertext, finalBlock)
	if err != nil {
		return fmt.Errorf("decrypt block %d: %w", r.blockID, err)
	}

	r.bufferBlockID = r.blockID
	r.blockID++
	r.buffer = plaintext
	r.bufferPos = 0
	return nil
}

// Length lazily computes the cleartext length by decrypting the final
// block to discover its post-padding size.
func (r *Reader) Length() (uint64, error) {
	if r.cleartextLength == noBlock {
		pos := r.Tell()
		if err := r.SeekTo(r.inputLength); err != nil {
			return 0, err
		}
		r.cleartextLength = r.Tell()
		if err := r.SeekTo(pos); err != nil {
			return 0, err
		}
	}
	return r.cleartextLength, nil
}

// SeekTo positions the stream at the given cleartext offset. Positions
// beyond the end clamp to the end.
func (r *Reader) SeekTo(pos uint64) error {
	if pos > r.inputLength {
		pos = r.inputLength
	}
	blockID := min(pos/BlockSize, r.finalBlockID)
	blockPos := blockID * BlockSize
	if blockID != r.bufferBlockID {
		if _, err := r.in.Seek(int64(blockPos), io.SeekStart); err != nil {
			return fmt.Errorf("seek block %d: %w", blockID, err)
		}
		r.blockID = blockID
		if err := r.fillBuffer(); err != nil {
			return err
		}
	}
	r.bufferPos = int(min(pos-blockPos, uint64(len(r.buffer))))
	return nil
}

// Tell returns the current cleartext position.
func (r *Reader) Tell() uint64 {
	if r.bufferBlockID == noBlock {
		return 0
	}
	return r.bufferBlockID*BlockSize + uint64(r.bufferPos)
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.in == nil {
		return nil
	}
	in := r.in
	r.in = nil
	return in.Close()
}

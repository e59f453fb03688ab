package crypto

import (
	"errors"
	"fmt"
	"io"
)

// Writer encrypts an append-only cleartext stream onto an underlying
// writer. Nothing reaches the underlying writer until a full block
// accumulates or Close writes the final padded block and the nonce
// trailer. Writer owns the underlying stream and closes it on Close.
type Writer struct {
	out   io.WriteCloser
	key   []byte
	nonce []byte

	buf     [BlockSize]byte
	bufPos  int
	blockID uint64
}

// NewWriter starts an encrypted stream on out using the given user key.
func NewWriter(out io.WriteCloser, alg Algorithm, userKey []byte) (*Writer, error) {
	if err := checkKey(alg, userKey); err != nil {
		return nil, err
	}
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return &Writer{
		out:   out,
		key:   deriveFileKey(userKey, nonce),
		nonce: nonce,
	}, nil
}

// Write implements io.Writer over the cleartext.
func (w *Writer) Write(p []byte) (int, error) {
	if w.out == nil {
		return 0, errors.New("write to closed encrypted stream")
	}
	total := len(p)

	// Top up the partial block buffer first.
	n := copy(w.buf[w.bufPos:], p)
	w.bufPos += n
	p = p[n:]
	if w.bufPos < BlockSize {
		return total, nil
	}

	if err := w.writeBlock(w.buf[:], false); err != nil {
		return total - len(p) - BlockSize, err
	}
	w.bufPos = 0

	// Whole blocks go straight through.
	for len(p) >= BlockSize {
		if err := w.writeBlock(p[:BlockSize], false); err != nil {
			return total - len(p), err
		}
		p = p[BlockSize:]
	}

	w.bufPos = copy(w.buf[:], p)
	return total, nil
}

// Close flushes the final padded block, appends the nonce trailer, and
// closes the underlying writer.
func (w *Writer) Close() error {
	if w.out == nil {
		return nil
	}
	out := w.out
	w.out = nil

	if err := w.writeBlockTo(out, w.buf[:w.bufPos], true); err != nil {
		out.Close()
		return err
	}
	if _, err := out.Write(w.nonce); err != nil {
		out.Close()
		return fmt.Errorf("write stream trailer: %w", err)
	}
	return out.Close()
}

func (w *Writer) writeBlock(plaintext []byte, finalBlock bool) error {
	return w.writeBlockTo(w.out, plaintext, finalBlock)
}

func (w *Writer) writeBlockTo(out io.Writer, plaintext []byte, finalBlock bool) error {
	ciphertext, err := encryptBlock(w.key, w.blockID, plaintext, finalBlock)
	if err != nil {
		return fmt.Errorf("encrypt block %d: %w", w.blockID, err)
	}
	w.blockID++
	if _, err := out.Write(ciphertext); err != nil {
		return fmt.Errorf("write block %d: %w", w.blockID-1, err)
	}
	return nil
}

package crypt

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrAuthentication reports that a ciphertext stream failed authentication:
// the passphrase is wrong, or the stored backup was modified or truncated.
// It is deliberately distinct from I/O errors, which propagate unchanged.
var ErrAuthentication = errors.New("backup authentication failed")

var magic = []byte("SYNB")

const (
	formatVersion = 1

	// chunkSize is the plaintext size of one frame. Memory use of the
	// pipeline is a small multiple of this, independent of stream length.
	chunkSize = 64 * 1024

	nonceSize   = 12
	gcmOverhead = 16

	// frameFinal marks the explicit empty frame terminating the stream, so a
	// truncated ciphertext cannot pass as complete.
	frameFinal = 0x01
)

// Encrypt wraps src in the streaming encryption envelope keyed by the
// passphrase. The returned reader yields the header followed by
// authenticated frames.
func Encrypt(src io.Reader, passphrase string) (io.Reader, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	aead, err := DeriveKey(passphrase, salt).aead()
	if err != nil {
		return nil, err
	}

	r := &encryptReader{
		src:   src,
		aead:  aead,
		plain: make([]byte, chunkSize),
	}
	r.out = append(r.out, magic...)
	r.out = append(r.out, formatVersion)
	r.out = append(r.out, salt...)
	return r, nil
}

type encryptReader struct {
	src   io.Reader
	aead  cipher.AEAD
	plain []byte // frame plaintext buffer
	out   []byte // pending output bytes

	frame   uint64
	srcDone bool // src is exhausted
	done    bool // final frame emitted
	err     error
}

func (r *encryptReader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.nextFrame(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *encryptReader) nextFrame() error {
	if !r.srcDone {
		n, err := io.ReadFull(r.src, r.plain)
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			r.srcDone = true
		case err != nil:
			// I/O errors from the wrapped reader propagate unchanged.
			return err
		}
		if n > 0 {
			return r.appendFrame(r.plain[:n], 0)
		}
	}
	if err := r.appendFrame(nil, frameFinal); err != nil {
		return err
	}
	r.done = true
	return nil
}

// appendFrame seals one frame onto the output buffer. Wire format: 4-byte
// big-endian ciphertext length, 1-byte flags, random nonce, ciphertext. The
// frame counter and the flags are bound in as additional data.
func (r *encryptReader) appendFrame(plain []byte, flags byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	var ad [9]byte
	binary.BigEndian.PutUint64(ad[:8], r.frame)
	ad[8] = flags
	r.frame++

	ciphertext := r.aead.Seal(nil, nonce, plain, ad[:])

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ciphertext)))
	r.out = append(r.out, length[:]...)
	r.out = append(r.out, flags)
	r.out = append(r.out, nonce...)
	r.out = append(r.out, ciphertext...)
	return nil
}

// Decrypt reverses Encrypt. Frames are authenticated as they are read, so
// decryption fails at the first corrupted frame; a missing final frame is
// also an authentication failure. I/O errors from src propagate unchanged,
// everything cryptographic is reported via ErrAuthentication.
func Decrypt(src io.Reader, passphrase string) io.Reader {
	return &decryptReader{src: src, passphrase: passphrase}
}

type decryptReader struct {
	src        io.Reader
	passphrase string
	aead       cipher.AEAD
	buf        []byte // frame wire buffer
	plain      []byte // frame plaintext buffer
	out        []byte // decrypted bytes not yet consumed

	frame uint64
	done  bool
	err   error
}

func (r *decryptReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.aead == nil {
		if err := r.readHeader(); err != nil {
			r.err = err
			return 0, err
		}
	}
	for len(r.out) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.nextFrame(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *decryptReader) readHeader() error {
	hdr := make([]byte, len(magic)+1+saltSize)
	if _, err := io.ReadFull(r.src, hdr); err != nil {
		return streamError("truncated header", err)
	}
	if !bytes.Equal(hdr[:len(magic)], magic) {
		return fmt.Errorf("%w: not an encrypted backup stream", ErrAuthentication)
	}
	if hdr[len(magic)] != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrAuthentication, hdr[len(magic)])
	}

	aead, err := DeriveKey(r.passphrase, hdr[len(magic)+1:]).aead()
	if err != nil {
		return err
	}
	r.aead = aead
	r.buf = make([]byte, nonceSize+chunkSize+gcmOverhead)
	r.plain = make([]byte, 0, chunkSize)
	return nil
}

func (r *decryptReader) nextFrame() error {
	var header [5]byte
	if _, err := io.ReadFull(r.src, header[:]); err != nil {
		// The final frame was never seen, so EOF here means truncation.
		return streamError("truncated stream", err)
	}
	length := binary.BigEndian.Uint32(header[:4])
	flags := header[4]
	if length < gcmOverhead || length > chunkSize+gcmOverhead {
		return fmt.Errorf("%w: invalid frame size %d", ErrAuthentication, length)
	}

	wire := r.buf[:nonceSize+int(length)]
	if _, err := io.ReadFull(r.src, wire); err != nil {
		return streamError("truncated frame", err)
	}
	nonce, ciphertext := wire[:nonceSize], wire[nonceSize:]

	var ad [9]byte
	binary.BigEndian.PutUint64(ad[:8], r.frame)
	ad[8] = flags
	r.frame++

	plain, err := r.aead.Open(r.plain[:0], nonce, ciphertext, ad[:])
	if err != nil {
		return fmt.Errorf("%w: wrong passphrase or corrupted data", ErrAuthentication)
	}

	if flags&frameFinal != 0 {
		if len(plain) != 0 {
			return fmt.Errorf("%w: malformed final frame", ErrAuthentication)
		}
		r.done = true
		return nil
	}
	r.out = plain
	return nil
}

// streamError folds premature end-of-stream into an authentication failure
// and lets genuine I/O errors pass through untouched.
func streamError(msg string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	return err
}

// StreamOverhead returns the envelope overhead for a plaintext of the given
// size: the header plus per-frame framing and authentication tags. Useful for
// sizing uploads ahead of time.
func StreamOverhead(plainSize int64) int64 {
	frames := plainSize/chunkSize + 2
	return int64(len(magic)+1+saltSize) + frames*(5+nonceSize+gcmOverhead)
}

package crypt

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"testing"
)

func encryptAll(t *testing.T, plain []byte, passphrase string) []byte {
	t.Helper()
	r, err := Encrypt(bytes.NewReader(plain), passphrase)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ct, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading ciphertext: %v", err)
	}
	return ct
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 7}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			plain := make([]byte, size)
			if _, err := rand.Read(plain); err != nil {
				t.Fatalf("rand: %v", err)
			}

			ct := encryptAll(t, plain, "correct-horse")
			got, err := io.ReadAll(Decrypt(bytes.NewReader(ct), "correct-horse"))
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
			}
		})
	}
}

func TestWrongPassphrase(t *testing.T) {
	ct := encryptAll(t, []byte("secret archive"), "correct-horse")

	out, err := io.ReadAll(Decrypt(bytes.NewReader(ct), "battery-staple"))
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("error = %v, want ErrAuthentication", err)
	}
	if len(out) != 0 {
		t.Errorf("produced %d plaintext bytes before failing, want 0", len(out))
	}
}

func TestCiphertextNotDeterministic(t *testing.T) {
	plain := []byte("same input")
	first := encryptAll(t, plain, "pass")
	second := encryptAll(t, plain, "pass")
	if bytes.Equal(first, second) {
		t.Error("two encryptions produced identical ciphertext")
	}
}

func TestTamperedByteFailsAuthentication(t *testing.T) {
	ct := encryptAll(t, []byte("tamper target"), "pass")

	for i := range ct {
		mutated := bytes.Clone(ct)
		mutated[i] ^= 0x01

		_, err := io.ReadAll(Decrypt(bytes.NewReader(mutated), "pass"))
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("flipping byte %d: error = %v, want ErrAuthentication", i, err)
		}
	}
}

func TestTruncationFailsAuthentication(t *testing.T) {
	plain := make([]byte, 2*chunkSize+11)
	if _, err := rand.Read(plain); err != nil {
		t.Fatalf("rand: %v", err)
	}
	ct := encryptAll(t, plain, "pass")

	// Cut points across the header, mid-frame and the final frame.
	cuts := []int{0, 3, len(magic) + 1 + saltSize, 40, len(ct) / 2, len(ct) - 1, len(ct) - (5 + nonceSize + gcmOverhead)}
	for _, cut := range cuts {
		_, err := io.ReadAll(Decrypt(bytes.NewReader(ct[:cut]), "pass"))
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("truncating to %d bytes: error = %v, want ErrAuthentication", cut, err)
		}
	}
}

func TestReorderedFramesFailAuthentication(t *testing.T) {
	// Two full frames plus the final frame.
	plain := make([]byte, 2*chunkSize)
	if _, err := rand.Read(plain); err != nil {
		t.Fatalf("rand: %v", err)
	}
	ct := encryptAll(t, plain, "pass")

	headerLen := len(magic) + 1 + saltSize
	frameLen := 5 + nonceSize + chunkSize + gcmOverhead

	swapped := bytes.Clone(ct)
	copy(swapped[headerLen:], ct[headerLen+frameLen:headerLen+2*frameLen])
	copy(swapped[headerLen+frameLen:], ct[headerLen:headerLen+frameLen])

	_, err := io.ReadAll(Decrypt(bytes.NewReader(swapped), "pass"))
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

func TestNotAnEncryptedStream(t *testing.T) {
	_, err := io.ReadAll(Decrypt(bytes.NewReader([]byte("plain old tar data, definitely long enough")), "pass"))
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestSourceErrorPropagatesThroughEncrypt(t *testing.T) {
	sourceErr := errors.New("disk read failed")
	r, err := Encrypt(&failingReader{data: []byte("partial"), err: sourceErr}, "pass")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = io.ReadAll(r)
	if !errors.Is(err, sourceErr) {
		t.Errorf("error = %v, want the source error", err)
	}
	if errors.Is(err, ErrAuthentication) {
		t.Error("source I/O error was misreported as an authentication failure")
	}
}

func TestSourceErrorPropagatesThroughDecrypt(t *testing.T) {
	ct := encryptAll(t, []byte("some data"), "pass")
	sourceErr := errors.New("connection reset")

	_, err := io.ReadAll(Decrypt(&failingReader{data: ct[:len(ct)/2], err: sourceErr}, "pass"))
	if !errors.Is(err, sourceErr) {
		t.Errorf("error = %v, want the source error", err)
	}
	if errors.Is(err, ErrAuthentication) {
		t.Error("download I/O error was misreported as an authentication failure")
	}
}

func TestStreamOverhead(t *testing.T) {
	sizes := []int64{0, 1, chunkSize, 10 * chunkSize}
	for _, size := range sizes {
		plain := make([]byte, size)
		ct := encryptAll(t, plain, "pass")
		overhead := int64(len(ct)) - size
		if overhead > StreamOverhead(size) {
			t.Errorf("size %d: actual overhead %d exceeds StreamOverhead %d", size, overhead, StreamOverhead(size))
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	first := DeriveKey("pass", salt)
	second := DeriveKey("pass", salt)
	if !bytes.Equal(first.bytes, second.bytes) {
		t.Error("same passphrase and salt derived different keys")
	}
	other := DeriveKey("pass", []byte("fedcba9876543210"))
	if bytes.Equal(first.bytes, other.bytes) {
		t.Error("different salts derived the same key")
	}
}

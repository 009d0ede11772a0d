package kv

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20"
)

// CipherChaCha20 is the canonical stream cipher identifier.
const CipherChaCha20 = "CHACHA20"

// streamCipher encrypts/decrypts at arbitrary absolute positions of the
// log byte stream.
type streamCipher interface {
	xorKeyStreamAt(offset uint64, p []byte)
}

func newStreamCipher(id string, key []byte, iv uint64) (streamCipher, error) {
	switch id {
	case CipherChaCha20, "":
		return newChaCha20Stream(key, iv)
	}
	return nil, fmt.Errorf("kv: unknown cipher id %q", id)
}

// chacha20Stream derives the keystream from the DEK and the 64-bit basic
// IV. The IV forms the first 8 nonce bytes; the block counter is driven by
// the absolute log offset.
type chacha20Stream struct {
	key   []byte
	nonce []byte
}

func newChaCha20Stream(key []byte, iv uint64) (*chacha20Stream, error) {
	if len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("kv: cipher key must be %d bytes, got %d", chacha20.KeySize, len(key))
	}
	nonce := make([]byte, chacha20.NonceSize)
	binary.BigEndian.PutUint64(nonce, iv)
	return &chacha20Stream{key: append([]byte(nil), key...), nonce: nonce}, nil
}

func (c *chacha20Stream) xorKeyStreamAt(offset uint64, p []byte) {
	if len(p) == 0 {
		return
	}
	block := offset / 64
	within := int(offset % 64)
	if block+uint64(len(p)/64)+2 > math.MaxUint32 {
		// 256 GiB of log per database; the keystream counter is 32 bits
		panic("kv: log offset exceeds cipher keystream range")
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(c.key, c.nonce)
	if err != nil {
		panic(fmt.Sprintf("kv: cipher setup failed: %v", err))
	}
	cipher.SetCounter(uint32(block))
	if within > 0 {
		var skip [64]byte
		cipher.XORKeyStream(skip[:within], skip[:within])
	}
	cipher.XORKeyStream(p, p)
}

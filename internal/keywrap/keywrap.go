// Package keywrap implements the two-level key hierarchy that unlocks the
// encrypted database.
//
// A 32-byte data encryption key (DEK) is generated once at init and is the
// actual key handed to the database stream cipher. The DEK is stored
// wrapped by a key encryption key (KEK) derived from the user password and
// a random salt with Argon2. The wrap is AES-128-CBC with PKCS#7 padding;
// a wrong password is detected because unpadding fails on the wrong KEK.
// No separate password verifier is stored.
//
// Changing the password rewraps the DEK under a fresh salt; the DEK and
// therefore all existing ciphertext stay valid.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen = 64
	dekLen  = 32
	kekLen  = 16

	stateVersion = "1"
)

// Argon2 cost parameters, fixed to the defaults of the Argon2 reference
// specification. Changing them would invalidate every existing database.
const (
	argonTime    = 3
	argonMemory  = 4096
	argonThreads = 1
)

// AuthError is returned when the DEK cannot be unwrapped - almost always a
// wrong password, but also RNG or cipher failures during init.
type AuthError struct {
	Msg   string
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("keywrap: %s: %v", e.Msg, e.Cause)
	}
	return "keywrap: " + e.Msg
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

func authErr(msg string, cause error) *AuthError {
	return &AuthError{Msg: msg, Cause: cause}
}

// state is the serialized form stored in the jcxfs.env auth_data field.
type state struct {
	Version string `json:"version"`
	Salt    string `json:"salt"`
	// Dek is hex(iv || AES-CBC(dek))
	Dek string `json:"dek"`
}

// Machine holds the wrapped-key state and performs unlock and rewrap.
// The zero value is unusable until InitNewEnv or LoadEnv is called.
type Machine struct {
	state *state
}

// InitNewEnv generates a fresh salt and DEK and wraps the DEK under
// "password".
func (m *Machine) InitNewEnv(password string) error {
	if password == "" {
		return authErr("non-empty password required", nil)
	}
	salt, err := randomHex(saltLen)
	if err != nil {
		return authErr("salt generation failed", err)
	}
	rawDek, err := randomHex(dekLen)
	if err != nil {
		return authErr("dek generation failed", err)
	}
	kek := deriveKEK(password, salt)
	wrapped, err := wrapDEK(rawDek, kek)
	if err != nil {
		return err
	}
	m.state = &state{Version: stateVersion, Salt: salt, Dek: wrapped}
	return nil
}

// ReadCipher unwraps and returns the DEK as hex. A wrong password surfaces
// as *AuthError.
func (m *Machine) ReadCipher(password string) (string, error) {
	if err := m.checkState(); err != nil {
		return "", err
	}
	kek := deriveKEK(password, m.state.Salt)
	return unwrapDEK(m.state.Dek, kek)
}

// ChangePassword verifies "oldPassword", generates a fresh salt and rewraps
// the DEK under "newPassword". The DEK itself is unchanged.
func (m *Machine) ChangePassword(oldPassword, newPassword string) error {
	if err := m.checkState(); err != nil {
		return err
	}
	if newPassword == "" {
		return authErr("non-empty password required", nil)
	}
	oldKek := deriveKEK(oldPassword, m.state.Salt)
	dek, err := unwrapDEK(m.state.Dek, oldKek)
	if err != nil {
		return err
	}
	newSalt, err := randomHex(saltLen)
	if err != nil {
		return authErr("salt generation failed", err)
	}
	newKek := deriveKEK(newPassword, newSalt)
	wrapped, err := wrapDEK(dek, newKek)
	if err != nil {
		return err
	}
	m.state = &state{Version: stateVersion, Salt: newSalt, Dek: wrapped}
	return nil
}

// LoadEnv parses a serialized state blob. Parse-only, no verification.
func (m *Machine) LoadEnv(blob string) error {
	var s state
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return authErr("malformed auth data", err)
	}
	if s.Salt == "" || s.Dek == "" {
		return authErr("auth data missing required fields", nil)
	}
	m.state = &s
	return nil
}

// StoreEnv serializes the current state blob.
func (m *Machine) StoreEnv() (string, error) {
	if err := m.checkState(); err != nil {
		return "", err
	}
	out, err := json.Marshal(m.state)
	if err != nil {
		return "", authErr("state serialization failed", err)
	}
	return string(out), nil
}

func (m *Machine) checkState() error {
	if m.state == nil {
		return authErr("not yet initialized", nil)
	}
	return nil
}

// deriveKEK derives the 16-byte KEK with Argon2id from the password, using
// the hex-encoded salt string as the Argon2 salt.
func deriveKEK(password, salt string) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, kekLen)
}

// wrapDEK encrypts the hex DEK under the KEK. The result is
// hex(iv || ciphertext).
func wrapDEK(dekHex string, kek []byte) (string, error) {
	dek, err := hex.DecodeString(dekHex)
	if err != nil {
		return "", authErr("malformed dek", err)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return "", authErr("cipher setup failed", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", authErr("iv generation failed", err)
	}
	padded := pkcs7Pad(dek, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return hex.EncodeToString(append(iv, ct...)), nil
}

// unwrapDEK decrypts hex(iv || ciphertext) under the KEK and returns the
// DEK as hex. Unpad failure means the KEK (and so the password) was wrong.
func unwrapDEK(wrappedHex string, kek []byte) (string, error) {
	wrapped, err := hex.DecodeString(wrappedHex)
	if err != nil {
		return "", authErr("malformed wrapped dek", err)
	}
	if len(wrapped) < aes.BlockSize*2 || len(wrapped)%aes.BlockSize != 0 {
		return "", authErr("wrapped dek has invalid length", nil)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return "", authErr("cipher setup failed", err)
	}
	iv := wrapped[:aes.BlockSize]
	ct := wrapped[aes.BlockSize:]
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	dek, err := pkcs7Unpad(pt, aes.BlockSize)
	if err != nil {
		return "", authErr("error during dek decryption (password incorrect?)", err)
	}
	return hex.EncodeToString(dek), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

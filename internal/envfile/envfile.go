// Package envfile reads and writes the jcxfs.env sidecar file.
//
// The sidecar carries the minimum needed to open the encrypted database:
// the stream cipher IV, the cipher and auth module identities, and the
// wrapped-key blob produced by the auth module. It lives next to the
// database log files. If it is modified or removed, the database can no
// longer be opened - that is intentional.
package envfile

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the sidecar name, stored inside the database directory.
const FileName = "jcxfs.env"

const (
	keyIV          = "iv"
	keyCipherClass = "cipher_class"
	keyAuthClass   = "auth_class"
	keyAuthData    = "auth_data"

	comment = "Parameters for jcxfs database.  The database can not be opened if this file is modified or removed."
)

// Defaults for the module identity fields.
const (
	DefaultCipherClass = "CHACHA20"
	DefaultAuthClass   = "ARGON"
)

// Params is the parsed content of jcxfs.env.
type Params struct {
	// IV is the random 64-bit basic IV of the database stream cipher.
	IV uint64
	// CipherClass identifies the stream cipher implementation.
	CipherClass string
	// AuthClass identifies the auth module implementation.
	AuthClass string
	// AuthData is the auth module's serialized state (opaque here).
	AuthData string
}

// New fills in defaults and validates. The IV must be non-zero.
func New(iv uint64, cipherClass, authClass, authData string) (*Params, error) {
	if iv == 0 {
		return nil, fmt.Errorf("envfile: non-zero iv value required")
	}
	if cipherClass == "" {
		cipherClass = DefaultCipherClass
	}
	if authClass == "" {
		authClass = DefaultAuthClass
	}
	return &Params{
		IV:          iv,
		CipherClass: cipherClass,
		AuthClass:   authClass,
		AuthData:    authData,
	}, nil
}

// WriteFile writes the sidecar into directory "dir".
func (p *Params) WriteFile(dir string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", comment)
	fmt.Fprintf(&sb, "%s=%s\n", keyIV, hex.EncodeToString(u64be(p.IV)))
	fmt.Fprintf(&sb, "%s=%s\n", keyCipherClass, p.CipherClass)
	fmt.Fprintf(&sb, "%s=%s\n", keyAuthClass, p.AuthClass)
	fmt.Fprintf(&sb, "%s=%s\n", keyAuthData, p.AuthData)
	return os.WriteFile(filepath.Join(dir, FileName), []byte(sb.String()), 0600)
}

// ReadFile loads and parses the sidecar from directory "dir". A missing or
// malformed file is a fatal open error.
func ReadFile(dir string) (*Params, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s not found, unable to open database: %w", FileName, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("error reading %s: malformed line %q", FileName, line)
		}
		values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", FileName, err)
	}

	ivHex, ok := values[keyIV]
	if !ok {
		return nil, fmt.Errorf("error reading %s: missing %q", FileName, keyIV)
	}
	ivBytes, err := hex.DecodeString(ivHex)
	if err != nil || len(ivBytes) != 8 {
		return nil, fmt.Errorf("error reading %s: malformed %q value", FileName, keyIV)
	}
	var iv uint64
	for _, b := range ivBytes {
		iv = iv<<8 | uint64(b)
	}

	return New(iv, values[keyCipherClass], values[keyAuthClass], values[keyAuthData])
}

func u64be(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

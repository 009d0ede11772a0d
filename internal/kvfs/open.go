package kvfs

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/jcxfs/jcxfs/internal/envfile"
	"github.com/jcxfs/jcxfs/internal/keywrap"
	"github.com/jcxfs/jcxfs/internal/kv"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// InitParams configures creation of a new database.
type InitParams struct {
	Dir         string
	Password    string
	CipherClass string
	AuthClass   string
	PageSize    int32
}

// Config configures opening an existing database.
type Config struct {
	Dir      string
	Password string
	ReadOnly bool
	// SingleThreaded serializes all facade operations.
	SingleThreaded bool
}

// newAuthMachine resolves an auth module identifier from the env sidecar.
func newAuthMachine(authClass string) (*keywrap.Machine, error) {
	switch authClass {
	case envfile.DefaultAuthClass, "":
		return &keywrap.Machine{}, nil
	}
	return nil, fmt.Errorf("unknown auth module %q", authClass)
}

// Init creates a new database in an existing, empty directory.
func Init(params InitParams) error {
	if params.Password == "" {
		return fmt.Errorf("init: non empty password required")
	}
	if params.PageSize == 0 {
		params.PageSize = DefaultPageSize
	}
	if err := ValidatePageSize(params.PageSize); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	info, err := os.Stat(params.Dir)
	if err != nil {
		return fmt.Errorf("init: path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("init: path is not a directory")
	}
	entries, err := os.ReadDir(params.Dir)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("init: path must be empty")
	}

	iv, err := randomIV()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	machine, err := newAuthMachine(params.AuthClass)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := machine.InitNewEnv(params.Password); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	authData, err := machine.StoreEnv()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	env, err := envfile.New(iv, params.CipherClass, params.AuthClass, authData)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := env.WriteFile(params.Dir); err != nil {
		return fmt.Errorf("init: error writing %s: %w", envfile.FileName, err)
	}

	fs, err := openImpl(Config{Dir: params.Dir, Password: params.Password}, &params)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer fs.Close()
	tlog.Info.Printf("created database at %s with page size %d", params.Dir, params.PageSize)
	return nil
}

// Open unlocks and opens an existing database.
func Open(config Config) (*FS, error) {
	return openImpl(config, nil)
}

func openImpl(config Config, initParams *InitParams) (*FS, error) {
	envParams, err := envfile.ReadFile(config.Dir)
	if err != nil {
		return nil, err
	}
	machine, err := newAuthMachine(envParams.AuthClass)
	if err != nil {
		return nil, err
	}
	if err := machine.LoadEnv(envParams.AuthData); err != nil {
		return nil, err
	}
	dekHex, err := machine.ReadCipher(config.Password)
	if err != nil {
		return nil, err
	}
	dek, err := hex.DecodeString(dekHex)
	if err != nil {
		return nil, fmt.Errorf("malformed data encryption key: %w", err)
	}

	env, err := kv.Open(kv.Options{
		Dir:      config.Dir,
		CipherID: envParams.CipherClass,
		Key:      dek,
		IV:       envParams.IV,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	fs, err := buildFS(env, config, initParams)
	if err != nil {
		env.Close()
		return nil, err
	}
	tlog.Info.Printf("opened database at %s", config.Dir)
	return fs, nil
}

func buildFS(env *kv.Env, config Config, initParams *InitParams) (*FS, error) {
	meta, err := env.OpenStore(storeMeta, kv.ModeUnique)
	if err != nil {
		return nil, err
	}
	params, err := readParams(env, meta)
	if err != nil {
		return nil, err
	}
	if params == nil {
		if initParams == nil {
			return nil, fmt.Errorf("unable to read fs params from database")
		}
		params = &Params{Version: Version, PageSize: initParams.PageSize}
		if err := writeParams(env, meta, *params); err != nil {
			return nil, err
		}
	}
	if params.Version != Version {
		return nil, fmt.Errorf("unknown database version %d", params.Version)
	}

	inodes, err := newInodeStore(env, config.ReadOnly)
	if err != nil {
		return nil, err
	}
	paths, err := newPathStore(env)
	if err != nil {
		return nil, err
	}
	data, err := newDataStore(env, params.PageSize)
	if err != nil {
		return nil, err
	}

	fs := &FS{
		env:    env,
		paths:  paths,
		inodes: inodes,
		data:   data,
		params: *params,
	}
	if config.SingleThreaded {
		fs.gate = semaphore.NewWeighted(1)
	}
	tlog.Debug.Printf("opened db with params: version=%d pageSize=%d", params.Version, params.PageSize)
	return fs, nil
}

// ChangePassword rewraps the data encryption key under a new password.
// Only the env sidecar is rewritten; the database itself is untouched.
func ChangePassword(dir, oldPassword, newPassword string) error {
	envParams, err := envfile.ReadFile(dir)
	if err != nil {
		return err
	}
	machine, err := newAuthMachine(envParams.AuthClass)
	if err != nil {
		return err
	}
	if err := machine.LoadEnv(envParams.AuthData); err != nil {
		return err
	}
	if err := machine.ChangePassword(oldPassword, newPassword); err != nil {
		return err
	}
	newData, err := machine.StoreEnv()
	if err != nil {
		return err
	}
	newParams, err := envfile.New(envParams.IV, envParams.CipherClass, envParams.AuthClass, newData)
	if err != nil {
		return err
	}
	return newParams.WriteFile(dir)
}

func randomIV() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		iv := binary.BigEndian.Uint64(buf[:])
		if iv != 0 {
			return iv, nil
		}
	}
}

package vault

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/agentconfig/internal/storage"
)

// ErrCorrupt is returned when the encrypted file cannot be authenticated or parsed.
var ErrCorrupt = errors.New("secret file is corrupt or was written with a different key")

var (
	fileMagic = []byte("AGV1")
	hkdfInfo  = []byte("agentconfig secret vault v1")
)

const saltSize = 16

// errUnchanged aborts an Update without writing.
var errUnchanged = errors.New("unchanged")

// File keeps all secrets in one encrypted file:
//
//	magic(4) | salt(16) | nonce(24) | XChaCha20-Poly1305(yaml map)
//
// The key is derived with HKDF-SHA256 from material tied to the current user
// and host, salted per file.
type File struct {
	file     *storage.File
	material []byte
}

// NewFile creates a file-backed vault at path.
func NewFile(path, service string, lockTimeout time.Duration) *File {
	return &File{
		file:     storage.NewFile(path, storage.Options{Perm: 0o600, LockTimeout: lockTimeout}),
		material: keyMaterial(service),
	}
}

// Path returns the location of the encrypted file.
func (f *File) Path() string {
	return f.file.Path()
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	data, err := f.file.Read()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	secrets, _, err := f.open(data)
	if err != nil {
		return "", err
	}
	v, ok := secrets[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(ctx context.Context, key, value string) error {
	return f.file.Update(ctx, func(current []byte) ([]byte, error) {
		secrets, salt, err := f.open(current)
		if err != nil {
			return nil, err
		}
		secrets[key] = value
		return f.seal(secrets, salt)
	})
}

func (f *File) Delete(ctx context.Context, key string) error {
	err := f.file.Update(ctx, func(current []byte) ([]byte, error) {
		secrets, salt, err := f.open(current)
		if err != nil {
			return nil, err
		}
		if _, ok := secrets[key]; !ok {
			return nil, errUnchanged
		}
		delete(secrets, key)
		return f.seal(secrets, salt)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (f *File) Backend() Backend { return BackendFile }

// open decrypts data. Empty data yields an empty map and a fresh salt.
func (f *File) open(data []byte) (map[string]string, []byte, error) {
	if len(data) == 0 {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
		return map[string]string{}, salt, nil
	}

	header := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(data) < header || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, nil, ErrCorrupt
	}
	salt := data[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := data[len(fileMagic)+saltSize : header]

	aead, err := f.aead(salt)
	if err != nil {
		return nil, nil, err
	}
	plain, err := aead.Open(nil, nonce, data[header:], fileMagic)
	if err != nil {
		return nil, nil, ErrCorrupt
	}

	secrets := map[string]string{}
	if err := yaml.Unmarshal(plain, &secrets); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return secrets, append([]byte(nil), salt...), nil
}

func (f *File) seal(secrets map[string]string, salt []byte) ([]byte, error) {
	plain, err := yaml.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	aead, err := f.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(fileMagic)+len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, fileMagic), nil
}

func (f *File) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, f.material, salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

// keyMaterial binds the file key to the service, the OS user and the host.
func keyMaterial(service string) []byte {
	parts := []string{service}
	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username, u.Uid, u.HomeDir)
	}
	if host, err := os.Hostname(); err == nil {
		parts = append(parts, host)
	}
	return []byte(strings.Join(parts, "\x00"))
}

// Package session keeps the logged-in user's identity and access token in a
// file sealed with a passphrase-derived key.
package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"linesync/internal/config"
	"linesync/internal/fileutil"
	"linesync/internal/services"
)

// ErrNoSession is returned by Load when nobody is logged in.
var ErrNoSession = errors.New("no session")

// Session identifies the logged-in user.
type Session struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	AccessToken string    `json:"access_token"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields a usable session needs.
func (s *Session) Validate() error {
	if s == nil {
		return errors.New("session is nil")
	}
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return errors.New("access token is required")
	}
	return nil
}

// Store persists the session. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

var fileMagic = []byte("LSS1")

const (
	saltSize      = 16
	keySize       = chacha20poly1305.KeySize
	argonTime     = 1
	argonMemory   = 64 * 1024
	argonThreads  = 4
	sealedFileMod = 0o600
)

// FileStore seals the session with Argon2id and XChaCha20-Poly1305.
type FileStore struct {
	path       string
	passphrase string

	mu     sync.Mutex
	cached *Session
}

// NewFileStore returns the session store configured for cfg.
func NewFileStore(cfg *config.Config) *FileStore {
	return &FileStore{path: cfg.SessionPath(), passphrase: cfg.Session.Passphrase}
}

// Path returns the sealed session file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) checkPassphrase(operation string) error {
	if f.passphrase == "" {
		return services.Wrap(services.ErrConfiguration, "session", operation, "session.passphrase is not set", nil)
	}
	return nil
}

// Load returns the stored session, or ErrNoSession.
func (f *FileStore) Load(_ context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil {
		out := *f.cached
		return &out, nil
	}
	if err := f.checkPassphrase("load"); err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	plain, err := open(f.passphrase, sealed)
	if err != nil {
		return nil, services.Wrap(services.ErrUnauthorized, "session", "load", "cannot unseal session file", err)
	}
	var s Session
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	f.cached = &s
	out := s
	return &out, nil
}

// Save validates and seals s, replacing any existing session.
func (f *FileStore) Save(_ context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "session", "save", "", err)
	}
	if err := f.checkPassphrase("save"); err != nil {
		return err
	}
	stored := *s
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	plain, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sealed, err := seal(f.passphrase, plain)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := fileutil.WriteAtomic(f.path, sealed, sealedFileMod); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	f.cached = &stored
	return nil
}

// Clear removes the session file. Clearing an absent session is not an error.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = nil
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

// AccessToken returns the stored token, or "" when nobody is logged in so the
// backend client falls back to the anonymous key.
func (f *FileStore) AccessToken(ctx context.Context) (string, error) {
	s, err := f.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
}

// seal lays out magic | salt | nonce | ciphertext.
func seal(passphrase string, plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(fileMagic)+saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, fileMagic), nil
}

func open(passphrase string, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, fileMagic) {
		return nil, errors.New("not a session file")
	}
	rest := sealed[len(fileMagic):]
	if len(rest) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errors.New("session file truncated")
	}
	salt := rest[:saltSize]
	nonce := rest[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := rest[saltSize+chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, fileMagic)
	if err != nil {
		return nil, fmt.Errorf("decrypt session: %w", err)
	}
	return plain, nil
}

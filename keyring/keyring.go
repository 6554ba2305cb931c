// Package keyring provides secure credential storage for profile passwords.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/datagate-shell/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "datagate-shell"

	probeKey = "datagate-shell-probe"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound    = common.ErrCredentialsNotFound
	ErrAccess      = errors.New("keyring access denied")
	ErrUnavailable = errors.New("keyring service unavailable")
)

// Keyring stores passwords keyed by profile ID. It implements
// common.CredentialStore.
type Keyring struct {
	service string
	file    string

	probeOnce sync.Once

	mu       sync.RWMutex
	useLocal bool
	local    map[string]string
	key      []byte
}

var (
	defaultKeyring *Keyring
	defaultOnce    sync.Once
)

// New creates a keyring for service whose fallback file lives in dir.
// The system keyring is probed on first use.
func New(service, dir string) *Keyring {
	return &Keyring{
		service: service,
		file:    filepath.Join(dir, common.CredentialsFileName),
	}
}

// Default returns the process-wide keyring stored under the config directory.
func Default() *Keyring {
	defaultOnce.Do(func() {
		dir, err := common.GetConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		defaultKeyring = New(serviceName, dir)
	})
	return defaultKeyring
}

func (k *Keyring) probe() {
	k.probeOnce.Do(func() {
		if err := keyring.Set(k.service, probeKey, "probe"); err == nil {
			keyring.Delete(k.service, probeKey)
			return
		}
		common.LogWarn("System keyring unavailable, using encrypted file %s", k.file)
		k.switchToLocal()
	})
}

// switchToLocal derives the file key and loads existing credentials.
func (k *Keyring) switchToLocal() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.useLocal {
		return
	}
	k.useLocal = true
	k.key = deriveKey(k.service)
	k.local = make(map[string]string)

	data, err := os.ReadFile(k.file)
	if err != nil {
		return
	}
	decrypted, err := decrypt(k.key, data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credentials file: %v", fmt.Errorf("%w: %v", common.ErrDecryption, err))
		return
	}
	json.Unmarshal(decrypted, &k.local)
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey(service string) []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(service), []byte("credentials-file"))
	if _, err := io.ReadFull(r, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// saveLocal persists the local store. Caller holds k.mu.
func (k *Keyring) saveLocal() error {
	data, err := json.Marshal(k.local)
	if err != nil {
		return err
	}

	encrypted, err := encrypt(k.key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	if err := os.MkdirAll(filepath.Dir(k.file), 0700); err != nil {
		return err
	}
	return os.WriteFile(k.file, encrypted, 0600)
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (k *Keyring) isLocal() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.useLocal
}

// Store saves a password for a profile.
func (k *Keyring) Store(profileID, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	k.probe()

	if !k.isLocal() {
		err := keyring.Set(k.service, profileID, password)
		if err == nil {
			return nil
		}
		common.LogWarn("Keyring write failed, falling back to file: %v", err)
		k.switchToLocal()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.local[profileID] = password
	if err := k.saveLocal(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// Get retrieves a password for a profile.
func (k *Keyring) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}
	k.probe()

	if !k.isLocal() {
		password, err := keyring.Get(k.service, profileID)
		if err == nil {
			return password, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrAccess, err)
	}

	k.mu.RLock()
	password, exists := k.local[profileID]
	k.mu.RUnlock()
	if !exists {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes a password for a profile.
func (k *Keyring) Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	k.probe()

	if !k.isLocal() {
		err := keyring.Delete(k.service, profileID)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.local, profileID)
	return k.saveLocal()
}

// Exists checks if a credential exists for a profile.
func (k *Keyring) Exists(profileID string) bool {
	_, err := k.Get(profileID)
	return err == nil
}

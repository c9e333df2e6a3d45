package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"tradedesk/logger"
)

const (
	storagePrefix    = "ENC:v1:"
	storageDelimiter = ":"
)

// EnvDataEncryptionKey AES data encryption key (base64, hex or passphrase)
const EnvDataEncryptionKey = "DATA_ENCRYPTION_KEY"

// CryptoService encrypts exchange credentials at rest
type CryptoService struct {
	dataKey []byte
}

// NewCryptoService loads the data key from the environment
func NewCryptoService() (*CryptoService, error) {
	dataKey, err := loadDataKeyFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load data encryption key: %w", err)
	}
	return &CryptoService{dataKey: dataKey}, nil
}

// NewCryptoServiceWithKey builds a service from an explicit key string
func NewCryptoServiceWithKey(key string) (*CryptoService, error) {
	dataKey, err := parseDataKey(key)
	if err != nil {
		return nil, err
	}
	return &CryptoService{dataKey: dataKey}, nil
}

func loadDataKeyFromEnv() ([]byte, error) {
	return parseDataKey(os.Getenv(EnvDataEncryptionKey))
}

func parseDataKey(value string) ([]byte, error) {
	keyStr := strings.TrimSpace(value)
	if keyStr == "" {
		return nil, fmt.Errorf("%s is not set", EnvDataEncryptionKey)
	}

	if key, ok := decodePossibleKey(keyStr); ok {
		return key, nil
	}

	// not an encoded key: derive one from the passphrase
	sum := sha256.Sum256([]byte(keyStr))
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key, nil
}

// decodePossibleKey tries base64 and hex encodings
func decodePossibleKey(value string) ([]byte, bool) {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		func(s string) ([]byte, error) { return hex.DecodeString(s) },
	}

	for _, decoder := range decoders {
		if decoded, err := decoder(value); err == nil {
			if key, ok := normalizeAESKey(decoded); ok {
				return key, true
			}
		}
	}

	return nil, false
}

// normalizeAESKey accepts 16/24/32 byte keys and hashes anything else to 32 bytes
func normalizeAESKey(raw []byte) ([]byte, bool) {
	switch len(raw) {
	case 16, 24, 32:
		return raw, true
	case 0:
		return nil, false
	default:
		sum := sha256.Sum256(raw)
		key := make([]byte, len(sum))
		copy(key, sum[:])
		return key, true
	}
}

func (cs *CryptoService) HasDataKey() bool {
	return len(cs.dataKey) > 0
}

func (cs *CryptoService) EncryptForStorage(plaintext string, aadParts ...string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !cs.HasDataKey() {
		return "", errors.New("data encryption key not configured")
	}
	if isEncryptedStorageValue(plaintext) {
		return plaintext, nil
	}

	gcm, err := cs.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), composeAAD(aadParts))

	return storagePrefix +
		base64.StdEncoding.EncodeToString(nonce) + storageDelimiter +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (cs *CryptoService) DecryptFromStorage(value string, aadParts ...string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !cs.HasDataKey() {
		return "", errors.New("data encryption key not configured")
	}
	if !isEncryptedStorageValue(value) {
		return "", errors.New("value is not encrypted")
	}

	payload := strings.TrimPrefix(value, storagePrefix)
	parts := strings.SplitN(payload, storageDelimiter, 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted value format")
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := cs.newGCM()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length: want %d, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, composeAAD(aadParts))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func (cs *CryptoService) IsEncryptedStorageValue(value string) bool {
	return isEncryptedStorageValue(value)
}

func (cs *CryptoService) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cs.dataKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func composeAAD(parts []string) []byte {
	if len(parts) == 0 {
		return nil
	}
	return []byte(strings.Join(parts, "|"))
}

func isEncryptedStorageValue(value string) bool {
	return strings.HasPrefix(value, storagePrefix)
}

// StorageFuncs store encrypt/decrypt hooks. Failures are logged and the input is passed through,
// so plaintext rows written before encryption was enabled stay readable.
func (cs *CryptoService) StorageFuncs() (encrypt, decrypt func(string) string) {
	encrypt = func(plaintext string) string {
		if plaintext == "" {
			return plaintext
		}
		encrypted, err := cs.EncryptForStorage(plaintext)
		if err != nil {
			logger.Warnf("⚠️ Encryption failed: %v", err)
			return plaintext
		}
		return encrypted
	}
	decrypt = func(encrypted string) string {
		if encrypted == "" || !cs.IsEncryptedStorageValue(encrypted) {
			return encrypted
		}
		decrypted, err := cs.DecryptFromStorage(encrypted)
		if err != nil {
			logger.Warnf("⚠️ Decryption failed: %v", err)
			return encrypted
		}
		return decrypted
	}
	return encrypt, decrypt
}

// GenerateDataKey returns a random base64 AES-256 key for DATA_ENCRYPTION_KEY
func GenerateDataKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

package sysio

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/google/uuid"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// gcmNonceSize is the random nonce length prepended to ciphertexts.
const gcmNonceSize = 12

// Crypto performs hashing, HMAC, symmetric encryption, base64 and random
// generation. AES-GCM ciphertexts carry their nonce as a prefix and travel
// base64-wrapped.
type Crypto struct {
	node.Base
}

// NewCrypto creates the crypto handler.
func NewCrypto() *Crypto {
	return &Crypto{Base: node.Base{Def: node.Definition{
		Type:        "crypto",
		DisplayName: "Crypto",
		Description: "Hash, HMAC, encrypt, decrypt, encode and generate random values",
		Icon:        "lock",
		Category:    "system",
		Schema: node.ObjectSchema(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{
					"hash", "hmac", "encrypt", "decrypt",
					"base64Encode", "base64Decode", "random", "uuid",
				},
			},
			"algorithm": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"md5", "sha1", "sha256", "sha384", "sha512"},
				"default": "sha256",
			},
			"encoding": map[string]interface{}{
				"type":    "string",
				"enum":    []interface{}{"hex", "base64"},
				"default": "hex",
			},
			"field": map[string]interface{}{
				"type":        "string",
				"default":     "data",
				"description": "Dotted path of the input value operated on",
			},
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Secret for hmac, encrypt and decrypt",
			},
			"length": map[string]interface{}{
				"type":    "integer",
				"default": 32,
			},
			"outputField": map[string]interface{}{
				"type":    "string",
				"default": "result",
			},
		}, "operation"),
		Interface: node.Ports([]string{"main"}, []string{"out"}),
	}}}
}

// Execute dispatches on operation and writes the result under outputField.
func (h *Crypto) Execute(ctx context.Context, nc *node.Context) *node.Result {
	operation := nc.ConfigString("operation", "")
	field := nc.ConfigString("field", "data")
	outputField := nc.ConfigString("outputField", "result")

	data := value.ToString(value.Get(nc.Input, field))

	var result string
	var err error
	switch operation {
	case "hash":
		result, err = digest(nc.ConfigString("algorithm", "sha256"), nc.ConfigString("encoding", "hex"), []byte(data))
	case "hmac":
		result, err = hmacDigest(nc.ConfigString("algorithm", "sha256"), nc.ConfigString("encoding", "hex"), nc.ConfigString("key", ""), []byte(data))
	case "encrypt":
		result, err = encrypt(nc.ConfigString("key", ""), []byte(data))
	case "decrypt":
		result, err = decrypt(nc.ConfigString("key", ""), data)
	case "base64Encode":
		result = base64.StdEncoding.EncodeToString([]byte(data))
	case "base64Decode":
		var raw []byte
		raw, err = base64.StdEncoding.DecodeString(data)
		result = string(raw)
	case "random":
		result, err = randomHex(nc.ConfigInt("length", 32))
	case "uuid":
		result = uuid.NewString()
	default:
		return node.Fail(node.KindValidation, "unknown crypto operation %q", operation)
	}
	if err != nil {
		return node.Fail(node.KindValidation, "crypto %s failed: %v", operation, err)
	}

	out := value.CloneMap(nc.Input)
	out[outputField] = result
	return node.Succeed(out)
}

func newHash(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
}

func encodeDigest(encoding string, sum []byte) (string, error) {
	switch encoding {
	case "hex":
		return hex.EncodeToString(sum), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(sum), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", encoding)
	}
}

func digest(algorithm, encoding string, data []byte) (string, error) {
	newFn, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	h := newFn()
	h.Write(data)
	return encodeDigest(encoding, h.Sum(nil))
}

func hmacDigest(algorithm, encoding, key string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required for hmac")
	}
	newFn, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(newFn, []byte(key))
	mac.Write(data)
	return encodeDigest(encoding, mac.Sum(nil))
}

// deriveKey stretches the configured secret to an AES-256 key.
func deriveKey(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:], nil
}

func newGCM(key string) (cipher.AEAD, error) {
	k, err := deriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(key string, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decrypt(key, wrapped string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	if len(raw) < gcmNonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func randomHex(length int) (string, error) {
	if length < 1 || length > 1024 {
		return "", fmt.Errorf("length must be in 1..1024, got %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ConstantTimeEquals compares two secrets without leaking length timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

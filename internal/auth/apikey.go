// internal/auth/apikey.go
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"membercycle/internal/docstore"
)

// CollectionAPIKeys stores hashed API keys.
const CollectionAPIKeys = "api_keys"

type apiKey struct {
	MemberID string `json:"member_id"`
	Hash     string `json:"hash"`
	Salt     string `json:"salt"`
	Revoked  bool   `json:"revoked"`
}

// hashSecret generates a salted Argon2id hash of the secret.
func hashSecret(secret string) (string, string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}

	hash := argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, 32)

	return base64.StdEncoding.EncodeToString(hash), base64.StdEncoding.EncodeToString(salt), nil
}

// verifySecret compares a secret with a salted hash.
func verifySecret(secret, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	comparisonHash := argon2.IDKey([]byte(secret), decodedSalt, 1, 64*1024, 4, 32)

	return subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1, nil
}

// IssueAPIKey stores a new key for memberID and returns the credential
// "<id>.<secret>". Only the hash is persisted.
func IssueAPIKey(ctx context.Context, store docstore.Store, memberID string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hash, salt, err := hashSecret(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}

	id := uuid.NewString()
	b := store.NewBatch()
	b.Add(docstore.Set(docstore.Ref{Collection: CollectionAPIKeys, ID: id}, map[string]any{
		"member_id":  memberID,
		"hash":       hash,
		"salt":       salt,
		"revoked":    false,
		"created_at": docstore.ServerTimestamp,
	}))
	if err := b.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to store api key: %w", err)
	}
	return id + "." + secret, nil
}

// KeyAuthenticator verifies "<id>.<secret>" API keys against the store.
type KeyAuthenticator struct {
	store docstore.Store
}

func NewKeyAuthenticator(store docstore.Store) *KeyAuthenticator {
	return &KeyAuthenticator{store: store}
}

func (a *KeyAuthenticator) Scheme() Scheme { return SchemeAPIKey }

func (a *KeyAuthenticator) Authenticate(ctx context.Context, credential string) (*Caller, error) {
	id, secret, ok := strings.Cut(credential, ".")
	if !ok || id == "" || secret == "" {
		return nil, fmt.Errorf("%w: malformed api key", ErrUnauthenticated)
	}

	doc, err := a.store.Get(ctx, docstore.Ref{Collection: CollectionAPIKeys, ID: id})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid api key", ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}

	var key apiKey
	if err := doc.DataTo(&key); err != nil {
		return nil, fmt.Errorf("failed to decode api key: %w", err)
	}
	if key.Revoked {
		return nil, fmt.Errorf("%w: api key revoked", ErrUnauthenticated)
	}

	valid, err := verifySecret(secret, key.Salt, key.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: invalid api key", ErrUnauthenticated)
	}
	return &Caller{MemberID: key.MemberID, Scheme: SchemeAPIKey}, nil
}

// Package auth maps opaque caller credentials to stable user ids.
// The verifier fails closed: any parse failure, unknown uid, hash mismatch,
// or disabled account yields an unauthenticated error and nothing else.
package auth

import (
	"context"
	"strings"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"

	"golang.org/x/crypto/bcrypt"
)

// CredentialCost is the bcrypt cost used when minting credential hashes.
const CredentialCost = bcrypt.DefaultCost

// Verifier maps a credential to a uid, or fails with ErrUnauthenticated.
type Verifier interface {
	Verify(ctx context.Context, credential string) (user.UID, error)
}

// Directory is the slice of the user directory the verifier needs.
type Directory interface {
	Get(ctx context.Context, uid user.UID) (*user.User, error)
}

// CredentialVerifier verifies "uid.secret" credentials against the bcrypt
// hash stored on the user record.
type CredentialVerifier struct {
	dir Directory
}

// NewCredentialVerifier creates a verifier backed by the given directory.
func NewCredentialVerifier(dir Directory) *CredentialVerifier {
	return &CredentialVerifier{dir: dir}
}

// Verify implements Verifier.
func (v *CredentialVerifier) Verify(ctx context.Context, credential string) (user.UID, error) {
	uid, secret, ok := splitCredential(credential)
	if !ok {
		return "", shared.ErrBadCredential
	}

	u, err := v.dir.Get(ctx, uid)
	if err != nil {
		// Do not leak whether the uid exists.
		return "", shared.ErrBadCredential
	}
	if u.Disabled {
		return "", shared.ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword(u.CredentialHash, []byte(secret)); err != nil {
		return "", shared.ErrBadCredential
	}
	return u.ID, nil
}

// HashSecret mints the bcrypt hash stored at registration.
func HashSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, shared.ErrBadCredential
	}
	return bcrypt.GenerateFromPassword([]byte(secret), CredentialCost)
}

// splitCredential parses "uid.secret". The uid itself never contains a dot.
func splitCredential(credential string) (user.UID, string, bool) {
	idx := strings.IndexByte(credential, '.')
	if idx <= 0 || idx == len(credential)-1 {
		return "", "", false
	}
	uid := user.UID(credential[:idx])
	if !uid.IsValid() {
		return "", "", false
	}
	return uid, credential[idx+1:], true
}

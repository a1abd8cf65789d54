package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candid-app/candid-core/internal/domain/shared"
	"github.com/candid-app/candid-core/internal/domain/user"
)

type fakeDirectory struct {
	users map[user.UID]*user.User
}

func (d *fakeDirectory) Get(_ context.Context, uid user.UID) (*user.User, error) {
	u, ok := d.users[uid]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u, nil
}

func newFakeDirectory(t *testing.T) *fakeDirectory {
	t.Helper()

	hash, err := HashSecret("correct-horse")
	require.NoError(t, err)

	return &fakeDirectory{users: map[user.UID]*user.User{
		"alice": {ID: "alice", SequenceID: 1, CredentialHash: hash},
		"mallory": {
			ID: "mallory", SequenceID: 2, CredentialHash: hash, Disabled: true,
		},
	}}
}

func TestVerify_AcceptsValidCredential(t *testing.T) {
	v := NewCredentialVerifier(newFakeDirectory(t))

	uid, err := v.Verify(context.Background(), "alice.correct-horse")
	require.NoError(t, err)
	assert.Equal(t, user.UID("alice"), uid)
}

func TestVerify_FailsClosed(t *testing.T) {
	v := NewCredentialVerifier(newFakeDirectory(t))
	ctx := context.Background()

	tests := []struct {
		name       string
		credential string
	}{
		{"empty", ""},
		{"no separator", "alice"},
		{"empty secret", "alice."},
		{"empty uid", ".correct-horse"},
		{"wrong secret", "alice.wrong"},
		{"unknown uid", "nobody.correct-horse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.credential)
			assert.True(t, shared.IsUnauthenticated(err), "got %v", err)
		})
	}
}

func TestVerify_DisabledAccountIsRejected(t *testing.T) {
	v := NewCredentialVerifier(newFakeDirectory(t))

	_, err := v.Verify(context.Background(), "mallory.correct-horse")
	assert.True(t, shared.IsUnauthenticated(err), "got %v", err)
}

func TestVerify_SecretMayContainDots(t *testing.T) {
	hash, err := HashSecret("sec.ret.with.dots")
	require.NoError(t, err)
	dir := &fakeDirectory{users: map[user.UID]*user.User{
		"bob": {ID: "bob", SequenceID: 1, CredentialHash: hash},
	}}
	v := NewCredentialVerifier(dir)

	uid, err := v.Verify(context.Background(), "bob.sec.ret.with.dots")
	require.NoError(t, err)
	assert.Equal(t, user.UID("bob"), uid)
}

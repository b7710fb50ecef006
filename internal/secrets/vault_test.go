package secrets

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testVault(t *testing.T) (*AESVault, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	v, err := NewAESVault(s, VaultConfig{MasterKey: testKey()})
	require.NoError(t, err)
	return v, s
}

func TestAESVault_StoreAndResolve(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "api_key", []byte("sk-secret-123")))

	val, err := v.Resolve(ctx, "api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-secret-123"), val)
}

func TestAESVault_EncryptedAtRest(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "token", []byte("plaintext-value")))

	raw, err := s.GetSecret(ctx, "token")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("plaintext-value")))
	assert.Greater(t, len(raw), len("plaintext-value"))
}

func TestAESVault_PassphraseDerivation(t *testing.T) {
	v, err := NewAESVault(store.NewMemoryStore(), VaultConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("value")))
	val, err := v.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), val)
}

func TestAESVault_WrongKeyCannotDecrypt(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	other := testKey()
	other[0] = 0xFF

	v1, err := NewAESVault(s, VaultConfig{MasterKey: testKey()})
	require.NoError(t, err)
	require.NoError(t, v1.Store(ctx, "secret", []byte("hidden")))

	v2, err := NewAESVault(s, VaultConfig{MasterKey: other})
	require.NoError(t, err)
	_, err = v2.Resolve(ctx, "secret")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_CiphertextBoundToKey(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "prod_token", []byte("prod")))
	sealed, err := s.GetSecret(ctx, "prod_token")
	require.NoError(t, err)
	require.NoError(t, s.StoreSecret(ctx, "dev_token", sealed))

	_, err = v.Resolve(ctx, "dev_token")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

func TestAESVault_Delete(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "key", []byte("val")))
	require.NoError(t, v.Delete(ctx, "key"))

	_, err := v.Resolve(ctx, "key")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestAESVault_ListAndOverwrite(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "b_key", []byte("1")))
	require.NoError(t, v.Store(ctx, "a_key", []byte("2")))
	require.NoError(t, v.Store(ctx, "a_key", []byte("3")))

	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_key", "b_key"}, keys)

	val, err := v.Resolve(ctx, "a_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)
}

func TestAESVault_UniqueNonces(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "k", []byte("same-value")))
	ct1, err := s.GetSecret(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, v.Store(ctx, "k", []byte("same-value")))
	ct2, err := s.GetSecret(ctx, "k")
	require.NoError(t, err)

	assert.False(t, bytes.Equal(ct1, ct2))
}

func TestAESVault_EmptyValue(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "empty", []byte{}))
	val, err := v.Resolve(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestNewAESVault_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  VaultConfig
	}{
		{"short master key", VaultConfig{MasterKey: []byte("too-short")}},
		{"nothing", VaultConfig{}},
		{"passphrase without salt", VaultConfig{Passphrase: "pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESVault(store.NewMemoryStore(), tt.cfg)
			assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
		})
	}
}

func TestConfigFromKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	cfg, err := ConfigFromKey(hexKey, "")
	require.NoError(t, err)
	assert.Len(t, cfg.MasterKey, 32)
	assert.Empty(t, cfg.Passphrase)

	cfg, err = ConfigFromKey("correct horse", "")
	require.NoError(t, err)
	assert.Equal(t, "correct horse", cfg.Passphrase)
	assert.Equal(t, []byte(DefaultSalt), cfg.Salt)

	cfg, err = ConfigFromKey("correct horse", "pepper")
	require.NoError(t, err)
	assert.Equal(t, []byte("pepper"), cfg.Salt)

	_, err = ConfigFromKey("  ", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))
}

package setstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSetStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemSetStore()
	ok, err := s.InSet(ctx, SetWhitelist, "123456789012345678")
	assert.NoError(err)
	assert.False(ok)

	rejected := s.AddIDs(SetWhitelist, []string{"123456789012345678", "not-an-id", "1234", "12345678901234567890"})
	assert.Equal([]string{"not-an-id", "1234"}, rejected)

	ok, err = s.InSet(ctx, SetWhitelist, "123456789012345678")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.InSet(ctx, SetWhitelist, "not-an-id")
	assert.NoError(err)
	assert.False(ok)

	members, err := s.Members(ctx, SetWhitelist)
	assert.NoError(err)
	sort.Strings(members)
	assert.Equal([]string{"123456789012345678", "12345678901234567890"}, members)

	members, err = s.Members(ctx, SetOwners)
	assert.NoError(err)
	assert.Empty(members)
}

func TestValidSnowflake(t *testing.T) {
	assert := assert.New(t)

	assert.True(ValidSnowflake("12345678901234567"))
	assert.True(ValidSnowflake("12345678901234567890"))
	assert.False(ValidSnowflake("1234567890123456"))
	assert.False(ValidSnowflake("123456789012345678901"))
	assert.False(ValidSnowflake("1234567890123456a"))
	assert.False(ValidSnowflake(""))
}

func TestLoadFromFileJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "sets.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"whitelist": ["111111111111111111"], "protected": ["222222222222222222"]}`), 0o644))

	s := NewMemSetStore()
	s.Add(SetWhitelist, "999999999999999999")
	assert.NoError(s.LoadFromFileJSON(p))

	ok, err := s.InSet(ctx, SetWhitelist, "111111111111111111")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.InSet(ctx, SetWhitelist, "999999999999999999")
	assert.NoError(err)
	assert.False(ok)
	ok, err = s.InSet(ctx, SetProtected, "222222222222222222")
	assert.NoError(err)
	assert.True(ok)

	assert.Error(s.LoadFromFileJSON(filepath.Join(t.TempDir(), "missing.json")))
}

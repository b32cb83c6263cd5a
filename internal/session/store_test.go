package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStoreRotation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	s := NewStore(logger)
	defer s.Close()

	_, ok := s.Current()
	assert.False(t, ok)

	sub := s.Subscribe()
	defer sub.Close()

	assert.True(t, s.Set("abc123"))
	assert.False(t, s.Set("abc123"))
	assert.True(t, s.Set("def456"))

	for _, want := range []string{"abc123", "def456"} {
		select {
		case tok := <-sub.C():
			assert.Equal(t, want, tok.Hash)
		case <-time.After(time.Second):
			t.Fatalf("expected token %s", want)
		}
	}

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "def456", cur.Hash)

	s.Clear()
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("abc"))
	assert.Equal(t, "abcd****", MaskToken("abcdefgh"))
}

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

func TestOpenAndNextDeliversChunksInOrder(t *testing.T) {
	m := New()
	defer m.Close()

	id := m.Open([]byte("abcdefghij"), 4)

	c1, err := m.Next(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), c1.Data)
	assert.False(t, c1.Final)

	c2, err := m.Next(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("efgh"), c2.Data)
	assert.False(t, c2.Final)

	c3, err := m.Next(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ij"), c3.Data)
	assert.True(t, c3.Final)
}

func TestNextAfterFinalReturnsNotFound(t *testing.T) {
	m := New()
	defer m.Close()

	id := m.Open([]byte("ab"), 8)
	_, err := m.Next(id)
	require.NoError(t, err)

	_, err = m.Next(id)
	require.Error(t, err)
	var bapErr *rpcerr.Error
	require.ErrorAs(t, err, &bapErr)
	assert.Equal(t, rpcerr.CodeStreamNotFound, bapErr.Code)
}

func TestNextUnknownIDReturnsNotFound(t *testing.T) {
	m := New()
	defer m.Close()

	_, err := m.Next("s-does-not-exist")
	require.Error(t, err)
}

func TestCancelRemovesStream(t *testing.T) {
	m := New()
	defer m.Close()

	id := m.Open([]byte("abcd"), 2)
	require.NoError(t, m.Cancel(id))

	_, err := m.Next(id)
	require.Error(t, err)

	assert.Error(t, m.Cancel(id))
}

func TestOpenUsesDefaultChunkSize(t *testing.T) {
	m := New()
	defer m.Close()

	data := make([]byte, 10)
	id := m.Open(data, 0)

	chunk, err := m.Next(id)
	require.NoError(t, err)
	assert.True(t, chunk.Final)
	assert.Equal(t, 10, chunk.Total)
}

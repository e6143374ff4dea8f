package spsock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/spsock-go/errcode"
)

func TestMessageBody(t *testing.T) {
	t.Run("append builds the body sequentially", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("hello")))
		require.NoError(t, m.Append([]byte(" world")))
		assert.Equal(t, []byte("hello world"), m.Body())
		assert.Equal(t, 11, m.Len())
	})

	t.Run("sequential appends equal one combined append", func(t *testing.T) {
		a := NewMessage()
		require.NoError(t, a.Append([]byte("foo")))
		require.NoError(t, a.Append([]byte("bar")))

		b := NewMessage()
		require.NoError(t, b.Append([]byte("foobar")))

		assert.Equal(t, b.Body(), a.Body())
	})

	t.Run("insert prepends", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("world")))
		require.NoError(t, m.Insert([]byte("hello ")))
		assert.Equal(t, []byte("hello world"), m.Body())
	})

	t.Run("trim and chop shorten from either end", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("abcdef")))
		require.NoError(t, m.Trim(2))
		assert.Equal(t, []byte("cdef"), m.Body())
		require.NoError(t, m.Chop(2))
		assert.Equal(t, []byte("cd"), m.Body())
	})

	t.Run("trim beyond length fails without partial effect", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("ab")))
		err := m.Trim(3)
		assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
		assert.Equal(t, []byte("ab"), m.Body())

		err = m.Chop(3)
		assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
		assert.Equal(t, []byte("ab"), m.Body())
	})

	t.Run("clear keeps capacity", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("payload")))
		m.Clear()
		assert.Zero(t, m.Len())
		assert.GreaterOrEqual(t, m.Cap(), 7)
	})

	t.Run("sized constructor zero-fills", func(t *testing.T) {
		m := NewMessageSize(4)
		assert.Equal(t, []byte{0, 0, 0, 0}, m.Body())
	})

	t.Run("reserve grows capacity only", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.Append([]byte("ab")))
		require.NoError(t, m.Reserve(64))
		assert.Equal(t, []byte("ab"), m.Body())
		assert.GreaterOrEqual(t, m.Cap(), 64)
	})
}

func TestMessageHeader(t *testing.T) {
	m := NewMessage()
	require.NoError(t, m.HeaderAppend([]byte{0xde, 0xad}))
	require.NoError(t, m.HeaderInsert([]byte{0xbe, 0xef}))
	assert.Equal(t, []byte{0xbe, 0xef, 0xde, 0xad}, m.Header())
	assert.Equal(t, 4, m.HeaderLen())

	require.NoError(t, m.HeaderTrim(1))
	require.NoError(t, m.HeaderChop(1))
	assert.Equal(t, []byte{0xef, 0xde}, m.Header())

	m.HeaderClear()
	assert.Zero(t, m.HeaderLen())
	assert.Empty(t, m.Body(), "header ops must not touch the body")
}

func TestMessageIntegers(t *testing.T) {
	t.Run("append then chop round-trips in network order", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.AppendUint16(0x0102))
		require.NoError(t, m.AppendUint32(0x03040506))
		require.NoError(t, m.AppendUint64(0x0708091011121314))
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 0x10, 0x11, 0x12, 0x13, 0x14}, m.Body())

		v64, err := m.ChopUint64()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x0708091011121314), v64)

		v32, err := m.ChopUint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(0x03040506), v32)

		v16, err := m.ChopUint16()
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0102), v16)
		assert.Zero(t, m.Len())
	})

	t.Run("insert then trim round-trips", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.InsertUint32(42))
		require.NoError(t, m.InsertUint16(7))

		v16, err := m.TrimUint16()
		require.NoError(t, err)
		assert.Equal(t, uint16(7), v16)

		v32, err := m.TrimUint32()
		require.NoError(t, err)
		assert.Equal(t, uint32(42), v32)
	})

	t.Run("short body fails the typed reads", func(t *testing.T) {
		m := NewMessage()
		require.NoError(t, m.AppendUint16(1))
		_, err := m.TrimUint32()
		assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
		assert.Equal(t, 2, m.Len(), "failed read must not consume bytes")
	})
}

func TestMessageDup(t *testing.T) {
	m := NewMessage()
	require.NoError(t, m.HeaderAppend([]byte{1}))
	require.NoError(t, m.Append([]byte("orig")))

	d, err := m.Dup()
	require.NoError(t, err)
	require.NoError(t, d.Append([]byte("inal")))

	assert.Equal(t, []byte("orig"), m.Body())
	assert.Equal(t, []byte("original"), d.Body())
	assert.Equal(t, m.Header(), d.Header())
}

func TestMessageConsumed(t *testing.T) {
	// detach stands in for a successful send here; the full ownership
	// transfer is covered by the socket tests.
	m := NewMessage()
	require.NoError(t, m.Append([]byte("x")))
	m.detach()

	assert.True(t, errors.Is(m.Append([]byte("y")), errcode.ErrInvalidArgument))
	assert.True(t, errors.Is(m.Trim(1), errcode.ErrInvalidArgument))
	assert.True(t, errors.Is(m.HeaderAppend([]byte("y")), errcode.ErrInvalidArgument))
	_, err := m.Dup()
	assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
	assert.Nil(t, m.Body())
	assert.Zero(t, m.Len())
}

package trainlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Append(t *testing.T) {
	t.Run("within capacity", func(t *testing.T) {
		b := NewBuffer(5)
		b.Append("line1")
		b.Append("line2")
		assert.Equal(t, []string{"line1", "line2"}, b.Lines())
		assert.Equal(t, 2, b.Len())
	})

	t.Run("evicts oldest", func(t *testing.T) {
		b := NewBuffer(3)
		for i := 1; i <= 5; i++ {
			b.Append(fmt.Sprintf("line%d", i))
		}
		assert.Equal(t, []string{"line3", "line4", "line5"}, b.Lines())
	})

	t.Run("exact limit boundary", func(t *testing.T) {
		b := NewBuffer(3)
		b.Append("line1")
		b.Append("line2")
		b.Append("line3")
		assert.Equal(t, []string{"line1", "line2", "line3"}, b.Lines())
		b.Append("line4")
		assert.Equal(t, []string{"line2", "line3", "line4"}, b.Lines())
	})

	t.Run("default capacity", func(t *testing.T) {
		b := NewBuffer(0)
		assert.Len(t, b.lines, DefaultCapacity)
	})
}

func TestBuffer_Bound(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	for i := range 2500 {
		b.Append(fmt.Sprintf("line %d", i))
	}
	lines := b.Lines()
	require.Len(t, lines, 1000)
	assert.Equal(t, "line 1500", lines[0])
	assert.Equal(t, "line 2499", lines[999])
	for i := 1; i < len(lines); i++ {
		require.Equal(t, fmt.Sprintf("line %d", 1500+i), lines[i])
	}
}

func TestBuffer_Write(t *testing.T) {
	b := NewBuffer(3)
	n, err := b.Write([]byte("line1\n\nline2\r\nline3\nline4"))
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Equal(t, []string{"line2", "line3", "line4"}, b.Lines())
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(2)
	b.Append("a")
	b.Append("b")
	b.Append("c")
	b.Reset()
	assert.Empty(t, b.Lines())
	b.Append("d")
	assert.Equal(t, []string{"d"}, b.Lines())
}

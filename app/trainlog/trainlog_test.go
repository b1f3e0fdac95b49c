package trainlog

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpreter_Feed(t *testing.T) {
	in := New(0)
	in.Feed("Loading pretrained model")
	in.Feed("Iter 5: Train loss 1.2345, Learning Rate 1.000e-05, It/sec 0.512, Tokens/sec 300.1")
	in.Feed("Iter 5: Val loss 1.5000, Val took 2.1s")
	in.Feed("Iter 10: Train loss 1.1e-1, Learning Rate 1.000e-05")
	in.Feed("Iter 10: Saved adapter weights to /a/b/adapters/adapters.safetensors and /a/b/adapters/0000010_adapters.safetensors.")

	m := in.Snapshot()
	assert.Equal(t, []LossPoint{{Iteration: 5, Loss: 1.2345}, {Iteration: 10, Loss: 0.11}}, m.Train)
	assert.Equal(t, []LossPoint{{Iteration: 5, Loss: 1.5}}, m.Val)
	assert.Equal(t, 10, m.CurrentIteration)
	assert.Equal(t, "/a/b/adapters", m.AdapterPath)
	assert.Len(t, m.Lines, 5)

	loss, ok := m.FinalLoss()
	require.True(t, ok)
	assert.InDelta(t, 0.11, loss, 1e-9)
}

func TestInterpreter_ValDoesNotMoveIteration(t *testing.T) {
	in := New(10)
	in.Feed("Iter 3: Train loss 2.0")
	in.Feed("Iter 50: Val loss 1.9")
	assert.Equal(t, 3, in.Snapshot().CurrentIteration)
}

func TestInterpreter_AdapterOverwritten(t *testing.T) {
	in := New(10)
	in.Feed("Saved adapter weights to /run/one/adapters.safetensors.")
	assert.Equal(t, "/run/one", in.Snapshot().AdapterPath)
	in.Feed("Saved final weights to /run/two")
	assert.Equal(t, "/run/two", in.Snapshot().AdapterPath)
}

func TestInterpreter_Reset(t *testing.T) {
	in := New(10)
	in.Feed("Iter 1: Train loss 3.0")
	in.Feed("Iter 1: Val loss 3.1")
	in.Feed("Saved final weights to out/adapters")
	in.Reset()

	m := in.Snapshot()
	assert.Empty(t, m.Train)
	assert.Empty(t, m.Val)
	assert.Empty(t, m.Lines)
	assert.Equal(t, 0, m.CurrentIteration)
	assert.Empty(t, m.AdapterPath)
	_, ok := m.FinalLoss()
	assert.False(t, ok)
}

func TestInterpreter_Echo(t *testing.T) {
	in := New(10)
	out := bytes.NewBuffer(nil)
	in.SetEcho(NewPrefixer(out, "j1"))
	in.Feed("hello\r\n")
	in.SetEcho(nil)
	in.Feed("not echoed")
	assert.Equal(t, "{j1} hello\n", out.String())
	assert.Equal(t, []string{"hello", "not echoed"}, in.Snapshot().Lines)
}

func TestInterpreter_BufferBound(t *testing.T) {
	in := New(DefaultCapacity)
	for i := range 1200 {
		in.Feed(fmt.Sprintf("Iter %d: Train loss 1.0", i))
	}
	m := in.Snapshot()
	assert.Len(t, m.Lines, DefaultCapacity)
	assert.Len(t, m.Train, 1200, "loss series are not bounded by the display buffer")
	assert.Equal(t, "Iter 200: Train loss 1.0", m.Lines[0])
}

func TestInterpreter_NoMatch(t *testing.T) {
	in := New(10)
	for _, l := range []string{"Iter x: Train loss 1.0", "Train loss 1.0", "Iter 4: Test loss 0.5", "saved nothing"} {
		in.Feed(l)
	}
	m := in.Snapshot()
	assert.Empty(t, m.Train)
	assert.Empty(t, m.Val)
	assert.Empty(t, m.AdapterPath)
}

func TestExtractAdapterPath(t *testing.T) {
	tbl := []struct {
		in, out string
	}{
		{"/a/b/adapters and /a/b/adapters/config.json", "/a/b/adapters"},
		{"/a/b/adapters/adapters.safetensors and /a/b/adapters/0000100_adapters.safetensors.", "/a/b/adapters"},
		{"/a/b/adapters.", "/a/b/adapters"},
		{"  out/adapters  ", "out/adapters"},
		{`C:\runs\x\adapters.safetensors`, `C:\runs\x`},
		{"adapters.safetensors", "adapters.safetensors"},
		{"/a/b/.hidden", "/a/b/.hidden"},
		{"", ""},
	}
	for _, tt := range tbl {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.out, ExtractAdapterPath(tt.in))
		})
	}
}

package collab

import (
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	// ulids are ordered by create time
	a := NewId()
	for i := 0; i < 4096; i += 1 {
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		assert.Equal(t, b.LessThan(b), false)
		a = b
	}
}

func TestIdCodec(t *testing.T) {
	a := NewId()

	parsed, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, parsed, a)

	fromBytes, err := IdFromBytes(a.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, fromBytes, a)

	_, err = IdFromBytes([]byte{1, 2, 3})
	assert.NotEqual(t, err, nil)
}

func TestOpIdOrder(t *testing.T) {
	a := NewId()
	b := NewId()

	assert.Equal(t, OpId{Clock: 1, Client: b}.LessThan(OpId{Clock: 2, Client: a}), true)
	assert.Equal(t, OpId{Clock: 2, Client: a}.LessThan(OpId{Clock: 1, Client: b}), false)
	// equal clocks order by client id
	assert.Equal(t, OpId{Clock: 1, Client: a}.LessThan(OpId{Clock: 1, Client: b}), true)
	assert.Equal(t, OpId{Clock: 1, Client: b}.LessThan(OpId{Clock: 1, Client: a}), false)
	assert.Equal(t, OpId{Clock: 1, Client: a}.LessThan(OpId{Clock: 1, Client: a}), false)
}

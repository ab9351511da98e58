package watchdog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping() error {
	return f.err
}

func TestCheck(t *testing.T) {
	p := &fakePinger{}
	w := New(p, time.Second, time.Minute)
	assert.NoError(t, w.Check())

	p.err = errors.New("connection refused")
	w.checkOnce()
	assert.Equal(t, 1, w.failures)
	assert.NoError(t, w.Check())

	w.lastSuccessfulCheck = time.Now().Add(-2 * time.Minute)
	assert.Error(t, w.Check())

	p.err = nil
	w.checkOnce()
	assert.Equal(t, 0, w.failures)
	assert.NoError(t, w.Check())
}

package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	got := make(chan string, 1)
	Go(nil, "pm5-general-status-pump", func(ctx context.Context) {
		got <- Name(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "pm5-general-status-pump", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST run")
	}
	assert.Empty(t, Name(context.Background()))
}

func TestGo_RecoversPanic(t *testing.T) {
	type report struct {
		name string
		v    any
	}
	reports := make(chan report, 1)

	prev := PanicHandler
	PanicHandler = func(name string, recovered any, _ []byte) {
		reports <- report{name, recovered}
	}
	t.Cleanup(func() { PanicHandler = prev })

	Go(context.Background(), "exploder", func(context.Context) {
		panic("boom")
	})

	select {
	case r := <-reports:
		require.Equal(t, "exploder", r.name)
		assert.Equal(t, "boom", r.v)
	case <-time.After(time.Second):
		t.Fatal("panic MUST be reported")
	}
}

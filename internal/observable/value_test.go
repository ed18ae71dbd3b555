package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_DeliversCurrentValue(t *testing.T) {
	v := New(true)
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.True(t, <-ch)
}

func TestSet_CoalescesToLatest(t *testing.T) {
	v := New(0)
	ch, cancel := v.Subscribe()
	defer cancel()
	<-ch

	v.Set(1)
	v.Set(2)
	v.Set(3)

	assert.Equal(t, 3, <-ch)
	assert.Equal(t, 3, v.Get())
}

func TestSet_SameValueDoesNotNotify(t *testing.T) {
	v := New("a")
	ch, cancel := v.Subscribe()
	defer cancel()
	<-ch

	v.Set("a")

	select {
	case got := <-ch:
		t.Fatalf("unexpected notification %q", got)
	default:
	}
}

func TestCancel_ClosesChannelOnce(t *testing.T) {
	v := New(false)
	ch, cancel := v.Subscribe()
	<-ch

	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	v.Set(true) // must not panic on a closed watcher
}

func TestClose_ClosesAllWatchers(t *testing.T) {
	v := New(false)
	a, cancelA := v.Subscribe()
	b, cancelB := v.Subscribe()
	<-a
	<-b

	v.Close()

	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)
	cancelA()
	cancelB()
}

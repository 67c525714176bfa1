package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryEmitOrderAndRemove(t *testing.T) {
	var r Registry[int]
	var got []string

	r.Add(func(v int) { got = append(got, "a") })
	removeB := r.Add(func(v int) { got = append(got, "b") })
	r.Add(func(v int) { got = append(got, "c") })

	r.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	removeB()
	got = nil
	r.Emit(2)
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryClear(t *testing.T) {
	var r Registry[string]
	called := false
	r.Add(func(string) { called = true })
	r.Clear()
	r.Emit("x")
	assert.False(t, called)
	assert.Zero(t, r.Len())
}

func TestRegistryListenerMayRemoveItself(t *testing.T) {
	var r Registry[int]
	count := 0
	var remove func()
	remove = r.Add(func(int) {
		count++
		remove()
	})
	r.Emit(1)
	r.Emit(2)
	assert.Equal(t, 1, count)
}

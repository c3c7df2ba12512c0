package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Values())
}

func TestAddAndGet(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Add("one", 1))
	require.NoError(t, r.Add("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestAddDuplicate(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Add("local", 1))

	err := r.Add("local", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Contains(t, err.Error(), "local")

	v, _ := r.Get("local")
	assert.Equal(t, 1, v, "original value must survive a rejected Add")
}

func TestSetKeepsPosition(t *testing.T) {
	r := New[string, int]()
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("a", 10)

	assert.Equal(t, []int{10, 2}, r.Values())
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Set("a", 1)
	r.Set("b", 2)
	r.Set("c", 3)

	v, ok := r.Delete("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = r.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []int{1, 3}, r.Values())

	_, ok = r.Delete("missing")
	assert.False(t, ok)

	r.Set("b", 20)
	assert.Equal(t, []int{1, 3, 20}, r.Values(), "re-added keys move to the end")
}

func TestValuesIsSnapshot(t *testing.T) {
	r := New[string, int]()
	r.Set("a", 1)
	r.Set("b", 2)

	values := r.Values()
	r.Delete("a")
	r.Set("c", 3)
	assert.Equal(t, []int{1, 2}, values)
	assert.Equal(t, []int{2, 3}, r.Values())
}

func TestConcurrentAccess(t *testing.T) {
	r := New[int, int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Add(n, n*n)
			r.Get(n)
			r.Values()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
}

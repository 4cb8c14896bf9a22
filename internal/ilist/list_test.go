package ilist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type elem struct {
	node Node
	val  int
}

func (e *elem) Link() *Node { return &e.node }

func TestPushBackOrder(t *testing.T) {
	var l List
	a, b, c := &elem{val: 1}, &elem{val: 2}, &elem{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	require.Equal(t, 3, l.Len())

	var got []int
	l.Each(func(it Item) bool {
		got = append(got, it.(*elem).val)
		return true
	})
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRemoveMiddle(t *testing.T) {
	var l List
	a, b, c := &elem{val: 1}, &elem{val: 2}, &elem{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	require.Equal(t, 2, l.Len())

	var got []int
	l.Each(func(it Item) bool {
		got = append(got, it.(*elem).val)
		return true
	})
	assert.Equal(t, []int{1, 3}, got)
	assert.Equal(t, a, l.Front())
}

func TestRemoveHeadAndTail(t *testing.T) {
	var l List
	a, b := &elem{val: 1}, &elem{val: 2}
	l.PushBack(a)
	l.PushBack(b)

	l.Remove(a)
	assert.Equal(t, b, l.Front())
	l.Remove(b)
	assert.Nil(t, l.Front())
	assert.Equal(t, 0, l.Len())
}

func TestEachStopsEarly(t *testing.T) {
	var l List
	for i := 0; i < 5; i++ {
		l.PushBack(&elem{val: i})
	}

	var got []int
	l.Each(func(it Item) bool {
		got = append(got, it.(*elem).val)
		return len(got) < 2
	})
	assert.Equal(t, []int{0, 1}, got)
}

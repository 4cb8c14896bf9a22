// Package ilist implements an intrusive doubly-linked list, grounded in the
// IQUEUEHEAD / IQUEUE_ADD / IQUEUE_DEL macros of the original C slab
// allocator this module is modeled on. Unlike container/list, the link
// lives inside the element itself (via the Node field it embeds), so
// pushing and removing an element never allocates — the same guarantee the
// original intrusive queue macros give, without needing unsafe pointer
// arithmetic to recover a containing struct from its embedded field.
package ilist

// Node is the link embedded in any type that participates in a List.
type Node struct {
	prev, next Item
}

// Item is implemented by any pointer type that embeds a Node and exposes
// it via Link.
type Item interface {
	Link() *Node
}

// List is an intrusive doubly-linked list of Items. The zero value is an
// empty, ready to use list.
type List struct {
	head, tail Item
	n          int
}

// Len returns the number of items currently linked.
func (l *List) Len() int { return l.n }

// Front returns the first item, or nil if the list is empty.
func (l *List) Front() Item { return l.head }

// PushBack appends it to the end of the list. it must not already be
// linked into any list.
func (l *List) PushBack(it Item) {
	nd := it.Link()
	nd.prev = l.tail
	nd.next = nil
	if l.tail != nil {
		l.tail.Link().next = it
	} else {
		l.head = it
	}
	l.tail = it
	l.n++
}

// Remove unlinks it from the list. it must currently be linked into l.
func (l *List) Remove(it Item) {
	nd := it.Link()
	if nd.prev != nil {
		nd.prev.Link().next = nd.next
	} else {
		l.head = nd.next
	}
	if nd.next != nil {
		nd.next.Link().prev = nd.prev
	} else {
		l.tail = nd.prev
	}
	nd.prev, nd.next = nil, nil
	l.n--
}

// Each calls f for every item in order, stopping early if f returns false.
// f may remove the current item from the list but must not remove other
// items.
func (l *List) Each(f func(Item) bool) {
	for it := l.head; it != nil; {
		next := it.Link().next
		if !f(it) {
			return
		}
		it = next
	}
}

package utils

// TimeFormat is the timestamp layout used by log outputs.
const TimeFormat = "2006-01-02 15:04:05.000"

// Deque is a double-ended queue backed by a growable ring buffer.
type Deque struct {
	head uint64
	size uint64
	buf  []interface{}
}

// NewDeque returns an empty deque.
func NewDeque() *Deque {
	return &Deque{buf: make([]interface{}, 1)}
}

func (d *Deque) cap() uint64 {
	return uint64(len(d.buf))
}

func (d *Deque) at(i uint64) uint64 {
	return (d.head + i) % d.cap()
}

func (d *Deque) resize(c uint64) {
	buf := make([]interface{}, c)
	for i := uint64(0); i < d.size; i++ {
		buf[i] = d.buf[d.at(i)]
	}
	d.head = 0
	d.buf = buf
}

// PushBack appends obj to the tail.
func (d *Deque) PushBack(obj interface{}) {
	if d.size == d.cap() {
		d.resize(d.cap() << 1)
	}
	d.buf[d.at(d.size)] = obj
	d.size++
}

// PushFront prepends obj to the head.
func (d *Deque) PushFront(obj interface{}) {
	if d.size == d.cap() {
		d.resize(d.cap() << 1)
	}
	d.head = (d.head + d.cap() - 1) % d.cap()
	d.buf[d.head] = obj
	d.size++
}

// PopFront removes and returns the head element.
func (d *Deque) PopFront() (interface{}, bool) {
	if d.size == 0 {
		return nil, false
	}
	obj := d.buf[d.head]
	d.buf[d.head] = nil
	d.head = d.at(1)
	d.size--
	d.maybeShrink()
	return obj, true
}

// PopBack removes and returns the tail element.
func (d *Deque) PopBack() (interface{}, bool) {
	if d.size == 0 {
		return nil, false
	}
	pos := d.at(d.size - 1)
	obj := d.buf[pos]
	d.buf[pos] = nil
	d.size--
	d.maybeShrink()
	return obj, true
}

func (d *Deque) maybeShrink() {
	if c := d.cap(); c > 1 && d.size <= c/4 {
		d.resize(c >> 1)
	}
}

// Head returns the head element without removing it.
func (d *Deque) Head() (interface{}, bool) {
	if d.size == 0 {
		return nil, false
	}
	return d.buf[d.head], true
}

// Back returns the tail element without removing it.
func (d *Deque) Back() (interface{}, bool) {
	if d.size == 0 {
		return nil, false
	}
	return d.buf[d.at(d.size-1)], true
}

// Len returns the number of queued elements.
func (d *Deque) Len() uint64 {
	return d.size
}

// Slice returns the queued elements in order.
func (d *Deque) Slice() []interface{} {
	out := make([]interface{}, d.size)
	for i := uint64(0); i < d.size; i++ {
		out[i] = d.buf[d.at(i)]
	}
	return out
}

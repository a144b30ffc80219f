package resp

const (
	slabSize      = 8192
	maxSlabObject = 512
)

// sliceAlloc hands out small byte slices carved from a shared slab so that
// decoding many short bulk strings costs one allocation per slab. Slices
// never overlap: each one is capped at its own length.
type sliceAlloc struct {
	buf    []byte
	allocs int
}

func (d *sliceAlloc) Make(n int) (ss []byte) {
	switch {
	case n == 0:
		return []byte{}
	case n >= maxSlabObject:
		d.allocs++
		return make([]byte, n)
	default:
		if len(d.buf) < n {
			d.buf = make([]byte, slabSize)
			d.allocs++
		}
		ss, d.buf = d.buf[:n:n], d.buf[n:]
		return ss
	}
}

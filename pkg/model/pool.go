package model

// Pool hands out float32 buffers for model storage.
type Pool interface {
	// Alloc returns a zeroed buffer of n floats, or nil if the pool
	// cannot serve the request.
	Alloc(n int) []float32
	// Release returns a buffer obtained from Alloc.
	Release(buf []float32)
}

// HeapPool allocates from the Go heap and never refuses.
type HeapPool struct{}

// Alloc implements Pool.
func (HeapPool) Alloc(n int) []float32 { return make([]float32, n) }

// Release implements Pool.
func (HeapPool) Release([]float32) {}

// BudgetPool caps the total floats handed out, standing in for a
// fixed-size memory region. Not safe for concurrent use; loading
// happens on a single goroutine.
type BudgetPool struct {
	Limit int

	used int
}

// Alloc implements Pool. It refuses requests beyond the remaining budget.
func (p *BudgetPool) Alloc(n int) []float32 {
	if n > p.Limit-p.used {
		return nil
	}
	p.used += n
	return make([]float32, n)
}

// Release implements Pool.
func (p *BudgetPool) Release(buf []float32) {
	if p.used -= len(buf); p.used < 0 {
		p.used = 0
	}
}

// Used reports floats currently handed out.
func (p *BudgetPool) Used() int { return p.used }

package vm

import (
	"fmt"

	"github.com/daimatz/minijvm/pkg/bytecode"
	"github.com/daimatz/minijvm/pkg/memory"
)

// Stack instructions see only words, so the category-2 forms need no
// knowledge of the value types involved.
func init() {
	register(permute(1, nil), bytecode.OpPop)
	register(permute(2, nil), bytecode.OpPop2)
	register(permute(1, []int{0, 0}), bytecode.OpDup)
	register(permute(2, []int{1, 0, 1}), bytecode.OpDupX1)
	register(permute(3, []int{2, 0, 1, 2}), bytecode.OpDupX2)
	register(permute(2, []int{0, 1, 0, 1}), bytecode.OpDup2)
	register(permute(3, []int{1, 2, 0, 1, 2}), bytecode.OpDup2X1)
	register(permute(4, []int{2, 3, 0, 1, 2, 3}), bytecode.OpDup2X2)
	register(permute(2, []int{1, 0}), bytecode.OpSwap)
}

// permute pops n words and pushes them back in the order given by out,
// which indexes the popped words bottom first.
func permute(n int, out []int) handler {
	return simple(func(f *memory.Frame, _ bytecode.Instruction) error {
		if f.Depth() >= n && f.Depth()-n+len(out) > f.MaxStack() {
			return fmt.Errorf("%w: %d words, max %d", memory.ErrOperandStackOverflow, f.Depth()-n+len(out), f.MaxStack())
		}
		ws, err := f.PopN(n)
		if err != nil {
			return err
		}
		res := make([]memory.Word, len(out))
		for i, j := range out {
			res[i] = ws[j]
		}
		return f.PushN(res...)
	})
}

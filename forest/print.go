package forest

import (
	"fmt"
	"os"
)

// WriteTecplot dumps every owned tree to prefix<block>.dat for visual
// inspection, one FEBRICK zone per file.
func (f *Forest) WriteTecplot(prefix string) error {
	for _, b := range f.OwnedBlocks() {
		if f.trees[b] == nil {
			continue
		}
		fp, err := os.Create(fmt.Sprintf("%s%d.dat", prefix, b))
		if err != nil {
			return err
		}
		f.trees[b].PrintOctree(fp)
		if err := fp.Close(); err != nil {
			return err
		}
	}
	return nil
}

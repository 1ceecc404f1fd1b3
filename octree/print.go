package octree

import (
	"fmt"
	"io"

	"github.com/notargets/octforest/octant"
)

// PrintOctree writes the element cubes as a Tecplot FEBRICK zone scaled
// to the unit cube, for visual inspection.
func (t *Octree) PrintOctree(w io.Writer) {
	elems := t.elements.Slice()

	fmt.Fprintf(w, "Variables = X, Y, Z\n")
	fmt.Fprintf(w, "ZONE T=octree N=%d E=%d ", 8*len(elems), len(elems))
	fmt.Fprintf(w, "DATAPACKING=POINT ZONETYPE=FEBRICK\n")

	dh := 1.0 / float64(octant.HMax)
	for _, e := range elems {
		h := e.EdgeLength()
		x, y, z := float64(e.X), float64(e.Y), float64(e.Z)
		hf := float64(h)

		fmt.Fprintf(w, "%e %e %e\n", x*dh, y*dh, z*dh)
		fmt.Fprintf(w, "%e %e %e\n", (x+hf)*dh, y*dh, z*dh)
		fmt.Fprintf(w, "%e %e %e\n", (x+hf)*dh, (y+hf)*dh, z*dh)
		fmt.Fprintf(w, "%e %e %e\n", x*dh, (y+hf)*dh, z*dh)

		fmt.Fprintf(w, "%e %e %e\n", x*dh, y*dh, (z+hf)*dh)
		fmt.Fprintf(w, "%e %e %e\n", (x+hf)*dh, y*dh, (z+hf)*dh)
		fmt.Fprintf(w, "%e %e %e\n", (x+hf)*dh, (y+hf)*dh, (z+hf)*dh)
		fmt.Fprintf(w, "%e %e %e\n", x*dh, (y+hf)*dh, (z+hf)*dh)
	}

	for i := range elems {
		for k := 0; k < 8; k++ {
			fmt.Fprintf(w, "%d ", 8*i+k+1)
		}
		fmt.Fprintf(w, "\n")
	}
}

package enginetest

import (
	"fmt"
	"strings"
)

type sampleAtom struct {
	name    string
	resName string
	chain   string
	resSeq  int
	x, y, z float64
	element string
}

var sampleAtoms = []sampleAtom{
	{" N", "ALA", "A", 1, 11.104, 6.134, -6.504, "N"},
	{" CA", "ALA", "A", 1, 11.639, 6.071, -5.147, "C"},
	{" C", "ALA", "A", 1, 13.149, 5.910, -5.212, "C"},
	{" O", "ALA", "A", 1, 13.711, 5.658, -6.271, "O"},
	{" N", "GLY", "A", 2, 13.801, 6.054, -4.050, "N"},
	{" CA", "GLY", "A", 2, 15.248, 5.922, -3.945, "C"},
}

var sampleBonds = [][2]int{{1, 2}, {2, 3}, {3, 4}, {3, 5}, {5, 6}}

// SamplePDB renders a small two-residue structure. Each step shifts every
// atom along x by 0.1 Å so successive snapshots are distinct.
func SamplePDB(step int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REMARK   1 STEP %d\n", step)
	for i, a := range sampleAtoms {
		fmt.Fprintf(&b, "ATOM  %5d %-4s %3s %1s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f          %2s\n",
			i+1, a.name, a.resName, a.chain, a.resSeq,
			a.x+0.1*float64(step), a.y, a.z, 1.0, 0.0, a.element)
	}
	for _, bond := range sampleBonds {
		fmt.Fprintf(&b, "CONECT%5d%5d\n", bond[0], bond[1])
	}
	b.WriteString("END\n")
	return b.String()
}

// SampleAtomCount is the number of ATOM records in SamplePDB.
func SampleAtomCount() int {
	return len(sampleAtoms)
}

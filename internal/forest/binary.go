package forest

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/tree"
)

// forestMagic opens every _forest.bin file (spec §6).
var forestMagic = [4]byte{'R', 'F', 'F', '1'}

const forestBinVersion uint16 = 1

// SaveTrees writes the _forest.bin layout: magic, version, reserved,
// tree count T, then for each tree (W u8, N u32, packed bytes).
func SaveTrees(w io.Writer, trees []*tree.PackedTree) error {
	if err := binary.Write(w, binary.LittleEndian, forestMagic); err != nil {
		return errors.Wrap(err, "forest: write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, forestBinVersion); err != nil {
		return errors.Wrap(err, "forest: write version")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil { // reserved
		return errors.Wrap(err, "forest: write reserved")
	}
	if len(trees) > 1<<16-1 {
		return errors.Errorf("forest: %d trees exceeds u16 range", len(trees))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(trees))); err != nil {
		return errors.Wrap(err, "forest: write T")
	}
	for i, t := range trees {
		if err := writeTree(w, t); err != nil {
			return errors.Wrapf(err, "forest: write tree[%d]", i)
		}
	}
	return nil
}

func writeTree(w io.Writer, t *tree.PackedTree) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(t.W)); err != nil {
		return err
	}
	n := t.NodeCount()
	if err := binary.Write(w, binary.LittleEndian, uint32(n)); err != nil {
		return err
	}
	// t.Bytes() is the PackedVec's backing buffer, which PushBack grows in
	// doubling steps and can therefore hold slack past the last node; write
	// only the bytes the node count actually occupies, or the next tree's
	// header desyncs against that slack on read-back.
	nbytes := (n*t.W + 7) / 8
	packed := t.Bytes()[:nbytes]
	_, err := w.Write(packed)
	return err
}

// LoadTrees reads an _forest.bin file, reconstructing each tree with the
// given F/L/K header fields (carried separately in _config.json and
// QTZ4, not duplicated in the binary per spec §6).
func LoadTrees(r io.Reader, f, l, k int) ([]*tree.PackedTree, error) {
	var magic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "forest: read magic")
	}
	if magic != forestMagic {
		return nil, errors.Errorf("forest: bad magic %q, want RFF1", magic)
	}
	var version, reserved, numTrees uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, errors.Wrap(err, "forest: read version")
	}
	if err := binary.Read(r, binary.LittleEndian, &reserved); err != nil {
		return nil, errors.Wrap(err, "forest: read reserved")
	}
	if err := binary.Read(r, binary.LittleEndian, &numTrees); err != nil {
		return nil, errors.Wrap(err, "forest: read T")
	}

	trees := make([]*tree.PackedTree, numTrees)
	for i := range trees {
		t, err := readTree(r, f, l, k)
		if err != nil {
			return nil, errors.Wrapf(err, "forest: read tree[%d]", i)
		}
		trees[i] = t
	}
	return trees, nil
}

func readTree(r io.Reader, f, l, k int) (*tree.PackedTree, error) {
	var w uint8
	if err := binary.Read(r, binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	nbytes := (int(n)*int(w) + 7) / 8
	buf := make([]byte, nbytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read packed node bytes")
	}
	return tree.FromBytes(f, l, k, int(w), int(n), buf)
}

package dataset

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/viettran-edgeAI/rfcore/internal/container"
)

// LoadCSVOptions configures LoadCSV.
type LoadCSVOptions struct {
	F, K             int
	PartialLoadLimit int // 0 = unbounded
	Bimap            *LabelBimap
}

// LoadCSV streams a normalised CSV (header required, F integer feature
// columns then a label column holding either an integer id or a label
// name) into a new Store (spec §4.5). Quantized values are validated
// against K: any value >= 2^K is a load error. Rows beyond the row
// ceiling are absorbed into Store's sliding-window Partial mode rather
// than rejected.
func LoadCSV(r io.Reader, opts LoadCSVOptions) (*Store, error) {
	if opts.F <= 0 {
		return nil, errors.New("dataset: LoadCSV requires F > 0")
	}
	if opts.Bimap == nil {
		opts.Bimap = NewLabelBimap()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = opts.F + 1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "dataset: read CSV header")
	}
	if len(header) != opts.F+1 {
		return nil, errors.Errorf("dataset: header has %d columns, want %d", len(header), opts.F+1)
	}

	store := NewPartial(opts.F, opts.K, opts.PartialLoadLimit)
	maxVal := uint64(1) << uint(opts.K)
	row := container.NewPackedVec(opts.K)
	row.Resize(opts.F, 0)

	rowNum := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: read CSV row %d", rowNum)
		}
		rowNum++

		for i := 0; i < opts.F; i++ {
			v, err := strconv.ParseUint(rec[i], 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "dataset: row %d feature %d %q not an integer", rowNum, i, rec[i])
			}
			if v >= maxVal {
				return nil, errors.Errorf("dataset: row %d feature %d value %d >= 2^%d", rowNum, i, v, opts.K)
			}
			row.Set(i, v)
		}

		label, err := parseLabel(rec[opts.F], opts.Bimap)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset: row %d label", rowNum)
		}

		if store.labels == nil {
			store.SetLabelCount(max(opts.Bimap.Len(), 1))
		} else if need := labelBitWidth(opts.Bimap.Len()); need > store.labelBits {
			store.growLabelBits(need)
		}
		if err := store.AppendRow(row, label); err != nil {
			return nil, errors.Wrapf(err, "dataset: append row %d", rowNum)
		}
	}
	return store, nil
}

// parseLabel accepts either a bare integer id or a label name, returning
// its bimap id (registering new names as they're seen).
func parseLabel(field string, bimap *LabelBimap) (int, error) {
	if id, err := strconv.Atoi(field); err == nil {
		for bimap.Len() <= id {
			bimap.Add(strconv.Itoa(bimap.Len()))
		}
		return id, nil
	}
	return bimap.Add(field), nil
}

// growLabelBits widens the label column in place when a CSV introduces
// more distinct label names than originally sized for.
func (s *Store) growLabelBits(bits int) {
	nl := container.NewPackedVecWithAllocator(bits, s.alloc, s.class)
	nl.Resize(s.n, 0)
	for i := 0; i < s.n; i++ {
		nl.Set(i, s.labels.Get(i))
	}
	s.labels = nl
	s.labelBits = bits
}

package quantizer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// qtz4Magic is the 4-byte tag opening every QTZ4 file (spec §6).
var qtz4Magic = [4]byte{'Q', 'T', 'Z', '4'}

const (
	ruleFullLinear  uint8 = 0
	ruleCustomEdges uint8 = 1
	ruleDiscreteSet uint8 = 2
)

// Save writes the quantizer's QTZ4 binary layout (spec §6):
//
//	magic[4] "QTZ4"
//	F        uint16
//	groups   uint16  (2^k)
//	L        uint8
//	outlier  uint8   (1 if ZScoreClamp)
//	[outlier==1] F * (mean float32, stddev float32)
//	L * label entry: id uint8, len uint8, utf8 bytes
//	F * feature rule:
//	    type    uint8
//	    fmin    float32
//	    fmax    float32
//	    baseline int64
//	    scale    uint64
//	    [CustomEdges]  edge_count uint8, edge_count * uint16 edges
//	    [DiscreteSet]  count uint8, count * float32 categories
func (q *Quantizer) Save(w io.Writer) error {
	if len(q.LabelNames) != q.L {
		return errors.Errorf("quantizer: %d label names for L=%d, Load would misparse the label/rule boundary", len(q.LabelNames), q.L)
	}
	if err := binary.Write(w, binary.LittleEndian, qtz4Magic); err != nil {
		return errors.Wrap(err, "quantizer: write magic")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(q.F)); err != nil {
		return errors.Wrap(err, "quantizer: write F")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(q.Groups())); err != nil {
		return errors.Wrap(err, "quantizer: write groups")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(q.L)); err != nil {
		return errors.Wrap(err, "quantizer: write L")
	}
	var outlier uint8
	if q.ZScoreClamp {
		outlier = 1
	}
	if err := binary.Write(w, binary.LittleEndian, outlier); err != nil {
		return errors.Wrap(err, "quantizer: write outlier flag")
	}
	if q.ZScoreClamp {
		for i := range q.Rules {
			r := &q.Rules[i]
			if err := binary.Write(w, binary.LittleEndian, r.Mean); err != nil {
				return errors.Wrapf(err, "quantizer: write mean[%d]", i)
			}
			if err := binary.Write(w, binary.LittleEndian, r.StdDev); err != nil {
				return errors.Wrapf(err, "quantizer: write stddev[%d]", i)
			}
		}
	}

	for i, name := range q.LabelNames {
		if i > 255 {
			return errors.Errorf("quantizer: label id %d exceeds u8 range", i)
		}
		if len(name) > 255 {
			return errors.Errorf("quantizer: label %d name too long (%d bytes)", i, len(name))
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(i)); err != nil {
			return errors.Wrapf(err, "quantizer: write label[%d] id", i)
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(len(name))); err != nil {
			return errors.Wrapf(err, "quantizer: write label[%d] length", i)
		}
		if _, err := w.Write([]byte(name)); err != nil {
			return errors.Wrapf(err, "quantizer: write label[%d] bytes", i)
		}
	}

	for i := range q.Rules {
		r := &q.Rules[i]
		if err := saveRule(w, r); err != nil {
			return errors.Wrapf(err, "quantizer: write rule[%d]", i)
		}
	}
	return nil
}

func saveRule(w io.Writer, r *FeatureRule) error {
	var t uint8
	switch r.Type {
	case FullLinear:
		t = ruleFullLinear
	case CustomEdges:
		t = ruleCustomEdges
	case DiscreteSet:
		t = ruleDiscreteSet
	default:
		return errors.Errorf("unknown rule type %d", r.Type)
	}
	for _, v := range []any{t, r.FMin, r.FMax, r.BaselineScaled, r.Scale} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	switch r.Type {
	case CustomEdges:
		if len(r.Edges) > 255 {
			return errors.Errorf("edge count %d exceeds u8 range", len(r.Edges))
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(len(r.Edges))); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, r.Edges)
	case DiscreteSet:
		if len(r.Categories) > 255 {
			return errors.Errorf("category count %d exceeds u8 range", len(r.Categories))
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(len(r.Categories))); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, r.Categories)
	default:
		return nil
	}
}

// Load reads a QTZ4 file produced by Save.
func Load(r io.Reader) (*Quantizer, error) {
	var magic [4]byte
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "quantizer: read magic")
	}
	if magic != qtz4Magic {
		return nil, errors.Errorf("quantizer: bad magic %q, want QTZ4", magic)
	}
	var f, groups uint16
	var l, outlier uint8
	if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
		return nil, errors.Wrap(err, "quantizer: read F")
	}
	if err := binary.Read(r, binary.LittleEndian, &groups); err != nil {
		return nil, errors.Wrap(err, "quantizer: read groups")
	}
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return nil, errors.Wrap(err, "quantizer: read L")
	}
	if err := binary.Read(r, binary.LittleEndian, &outlier); err != nil {
		return nil, errors.Wrap(err, "quantizer: read outlier flag")
	}
	k := log2(int(groups))
	if k < 1 || k > 8 {
		return nil, errors.Errorf("quantizer: groups=%d not a valid power of two in [2,256]", groups)
	}

	q, err := New(int(f), int(l), k)
	if err != nil {
		return nil, err
	}
	q.ZScoreClamp = outlier != 0

	if q.ZScoreClamp {
		for i := range q.Rules {
			r2 := &q.Rules[i]
			if err := binary.Read(r, binary.LittleEndian, &r2.Mean); err != nil {
				return nil, errors.Wrapf(err, "quantizer: read mean[%d]", i)
			}
			if err := binary.Read(r, binary.LittleEndian, &r2.StdDev); err != nil {
				return nil, errors.Wrapf(err, "quantizer: read stddev[%d]", i)
			}
		}
	}

	q.LabelNames = make([]string, l)
	for i := 0; i < int(l); i++ {
		var id, n uint8
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, errors.Wrapf(err, "quantizer: read label[%d] id", i)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrapf(err, "quantizer: read label[%d] length", i)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "quantizer: read label[%d] bytes", i)
		}
		if int(id) >= int(l) {
			return nil, errors.Errorf("quantizer: label id %d out of range [0,%d)", id, l)
		}
		q.LabelNames[id] = string(buf)
	}

	for i := range q.Rules {
		if err := loadRule(r, &q.Rules[i]); err != nil {
			return nil, errors.Wrapf(err, "quantizer: read rule[%d]", i)
		}
	}
	return q, nil
}

func loadRule(r io.Reader, out *FeatureRule) error {
	var t uint8
	if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
		return err
	}
	switch t {
	case ruleFullLinear:
		out.Type = FullLinear
	case ruleCustomEdges:
		out.Type = CustomEdges
	case ruleDiscreteSet:
		out.Type = DiscreteSet
	default:
		return errors.Errorf("unknown rule type byte %d", t)
	}
	if err := binary.Read(r, binary.LittleEndian, &out.FMin); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &out.FMax); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &out.BaselineScaled); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &out.Scale); err != nil {
		return err
	}

	switch out.Type {
	case CustomEdges:
		var n uint8
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return err
		}
		out.Edges = make([]uint16, n)
		return binary.Read(r, binary.LittleEndian, out.Edges)
	case DiscreteSet:
		var n uint8
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return err
		}
		out.Categories = make([]float32, n)
		return binary.Read(r, binary.LittleEndian, out.Categories)
	default:
		return nil
	}
}

func log2(n int) int {
	k := 0
	for (1 << uint(k)) < n {
		k++
	}
	if 1<<uint(k) != n {
		return -1
	}
	return k
}

// Package export writes and reads FieldVM's own binary r1cs/wtns files:
// a constraint-system file (.r1cs: magic "FVR1", a length-prefixed semver
// string, a header of public/witness/wire/constraint counts, the input
// names, then each constraint's A, B and C linear combinations) and a
// companion witness file (.wtns: magic "FVWT", the version, the two counts,
// then 32-byte canonical field elements). The layout is not the iden3
// snarkjs binary format, and snarkjs tools do not read these files.
// Public-input values are always written before witness values in the
// witness file; a deliberate fix versus a reference implementation that
// had this backwards (see DESIGN.md), since a verifier only ever needs
// the public prefix.
package export

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blang/semver/v4"

	"fieldvm/internal/field"
	"fieldvm/internal/r1cs"
)

// FormatVersion is embedded in every file this package writes; a reader
// built against an incompatible major version refuses to load the file.
var FormatVersion = semver.MustParse("1.0.0")

var (
	r1csMagic = [4]byte{'F', 'V', 'R', '1'}
	wtnsMagic = [4]byte{'F', 'V', 'W', 'T'}
)

func writeVersion(w io.Writer, v semver.Version) error {
	s := v.String()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readVersion(r io.Reader) (semver.Version, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return semver.Version{}, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return semver.Version{}, err
	}
	return semver.Parse(string(buf))
}

func checkCompatible(v semver.Version) error {
	if v.Major != FormatVersion.Major {
		return fmt.Errorf("export: file format version %s is incompatible with reader version %s", v, FormatVersion)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeElement(w io.Writer, e field.Element) error {
	b := e.Bytes()
	_, err := w.Write(b[:])
	return err
}

func readElement(r io.Reader) (field.Element, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return field.Element{}, err
	}
	// Field values round-tripped through this format were already
	// reduced when first computed, but FromLittleEndianBytes still
	// rejects a corrupted file claiming a non-canonical encoding.
	return field.FromLittleEndianBytes(b[:])
}

func writeLC(w io.Writer, lc r1cs.LC) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(lc))); err != nil {
		return err
	}
	for _, t := range lc {
		if err := binary.Write(w, binary.LittleEndian, uint32(t.Var)); err != nil {
			return err
		}
		if err := writeElement(w, t.Coeff); err != nil {
			return err
		}
	}
	return nil
}

func readLC(r io.Reader) (r1cs.LC, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	lc := make(r1cs.LC, n)
	for i := range lc {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		c, err := readElement(r)
		if err != nil {
			return nil, err
		}
		lc[i] = r1cs.Term{Var: int(v), Coeff: c}
	}
	return lc, nil
}

// WriteR1CS serializes an R1CS constraint system's structure (no witness
// values) to w.
func WriteR1CS(sys *r1cs.System, w io.Writer) error {
	if _, err := w.Write(r1csMagic[:]); err != nil {
		return err
	}
	if err := writeVersion(w, FormatVersion); err != nil {
		return err
	}
	header := []uint32{uint32(sys.NumPublic), uint32(sys.NumWitness), uint32(sys.NumWires), uint32(len(sys.Constraints))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, name := range sys.PublicNames {
		if err := writeString(w, name); err != nil {
			return err
		}
	}
	for _, name := range sys.WitnessNames {
		if err := writeString(w, name); err != nil {
			return err
		}
	}
	for _, c := range sys.Constraints {
		if err := writeLC(w, c.A); err != nil {
			return err
		}
		if err := writeLC(w, c.B); err != nil {
			return err
		}
		if err := writeLC(w, c.C); err != nil {
			return err
		}
	}
	return nil
}

// ReadR1CS parses a file written by WriteR1CS.
func ReadR1CS(r io.Reader) (*r1cs.System, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != r1csMagic {
		return nil, fmt.Errorf("export: not an r1cs file (bad magic)")
	}
	v, err := readVersion(r)
	if err != nil {
		return nil, err
	}
	if err := checkCompatible(v); err != nil {
		return nil, err
	}
	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			return nil, err
		}
	}
	sys := &r1cs.System{
		NumPublic:  int(header[0]),
		NumWitness: int(header[1]),
		NumWires:   int(header[2]),
	}
	numConstraints := int(header[3])
	for i := 0; i < sys.NumPublic; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		sys.PublicNames = append(sys.PublicNames, name)
	}
	for i := 0; i < sys.NumWitness; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		sys.WitnessNames = append(sys.WitnessNames, name)
	}
	for i := 0; i < numConstraints; i++ {
		a, err := readLC(r)
		if err != nil {
			return nil, err
		}
		bb, err := readLC(r)
		if err != nil {
			return nil, err
		}
		c, err := readLC(r)
		if err != nil {
			return nil, err
		}
		sys.Constraints = append(sys.Constraints, r1cs.Constraint{A: a, B: bb, C: c})
	}
	return sys, nil
}

// WriteWitness serializes public values followed by witness values, each
// as a canonical 32-byte little-endian field encoding.
func WriteWitness(public, wit []field.Element, w io.Writer) error {
	if _, err := w.Write(wtnsMagic[:]); err != nil {
		return err
	}
	if err := writeVersion(w, FormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(public))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(wit))); err != nil {
		return err
	}
	for _, e := range public {
		if err := writeElement(w, e); err != nil {
			return err
		}
	}
	for _, e := range wit {
		if err := writeElement(w, e); err != nil {
			return err
		}
	}
	return nil
}

// ReadWitness parses a file written by WriteWitness, returning the public
// values and the witness values separately.
func ReadWitness(r io.Reader) (public, wit []field.Element, err error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, nil, err
	}
	if magic != wtnsMagic {
		return nil, nil, fmt.Errorf("export: not a wtns file (bad magic)")
	}
	v, err := readVersion(r)
	if err != nil {
		return nil, nil, err
	}
	if err := checkCompatible(v); err != nil {
		return nil, nil, err
	}
	var nPub, nWit uint32
	if err := binary.Read(r, binary.LittleEndian, &nPub); err != nil {
		return nil, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nWit); err != nil {
		return nil, nil, err
	}
	public = make([]field.Element, nPub)
	for i := range public {
		e, err := readElement(r)
		if err != nil {
			return nil, nil, err
		}
		public[i] = e
	}
	wit = make([]field.Element, nWit)
	for i := range wit {
		e, err := readElement(r)
		if err != nil {
			return nil, nil, err
		}
		wit[i] = e
	}
	return public, wit, nil
}

// EncodeWitness is a convenience wrapper returning the serialized bytes
// directly, for callers (e.g. the CLI) that need a []byte rather than a
// stream.
func EncodeWitness(public, wit []field.Element) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWitness(public, wit, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

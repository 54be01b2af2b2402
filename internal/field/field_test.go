package field

import (
	"math/big"
	"math/rand"
	"testing"

	bn254fr "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// randBig returns a uniformly random big.Int in [0, p).
func randBig(r *rand.Rand) *big.Int {
	buf := make([]byte, 32)
	r.Read(buf)
	v := new(big.Int).SetBytes(buf)
	return v.Mod(v, modulusBig)
}

func TestAddMatchesOracle(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 256; i++ {
		a, b := randBig(r), randBig(r)
		got := FromBigInt(a).Add(FromBigInt(b)).BigInt()
		want := new(big.Int).Mod(new(big.Int).Add(a, b), modulusBig)
		if got.Cmp(want) != 0 {
			t.Fatalf("add(%s,%s) = %s, want %s", a, b, got, want)
		}
	}
}

func TestMulMatchesGnarkCrypto(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 256; i++ {
		a, b := randBig(r), randBig(r)

		var ea, eb bn254fr.Element
		ea.SetBigInt(a)
		eb.SetBigInt(b)
		var ec bn254fr.Element
		ec.Mul(&ea, &eb)
		want := new(big.Int)
		ec.BigInt(want)

		got := FromBigInt(a).Mul(FromBigInt(b)).BigInt()
		if got.Cmp(want) != 0 {
			t.Fatalf("mul(%s,%s) = %s, want %s", a, b, got, want)
		}
	}
}

func TestInverseIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 128; i++ {
		a := randBig(r)
		if a.Sign() == 0 {
			continue
		}
		x := FromBigInt(a)
		inv, ok := x.Inverse()
		if !ok {
			t.Fatalf("Inverse() failed for nonzero %s", a)
		}
		one := x.Mul(inv)
		if !one.Equal(One()) {
			t.Fatalf("x * x^-1 != 1 for x=%s", a)
		}
	}
}

func TestInverseZeroFails(t *testing.T) {
	if _, ok := Zero().Inverse(); ok {
		t.Fatal("Inverse() of zero should fail")
	}
}

func TestDistributivity(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 128; i++ {
		x := FromBigInt(randBig(r))
		y := FromBigInt(randBig(r))
		z := FromBigInt(randBig(r))
		lhs := x.Add(y).Mul(z)
		rhs := x.Mul(z).Add(y.Mul(z))
		if !lhs.Equal(rhs) {
			t.Fatalf("(x+y)*z != x*z+y*z")
		}
	}
}

func TestRoundTripBytes(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 128; i++ {
		a := randBig(r)
		x := FromBigInt(a)
		b := x.Bytes()
		y, err := FromLittleEndianBytes(b[:])
		if err != nil {
			t.Fatalf("FromLittleEndianBytes: %v", err)
		}
		if !x.Equal(y) {
			t.Fatalf("round trip mismatch for %s", a)
		}
	}
}

func TestFromLittleEndianBytesNotCanonical(t *testing.T) {
	b := mustBigEndian(modulus) // p itself, big-endian
	le := make([]byte, 32)
	for i := 0; i < 32; i++ {
		le[i] = b[31-i]
	}
	if _, err := FromLittleEndianBytes(le); err != ErrNotCanonical {
		t.Fatalf("expected ErrNotCanonical for p itself, got %v", err)
	}
}

func TestDecimalAndHexParsing(t *testing.T) {
	a, err := FromDecimalString("42")
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromHexString("0x2a")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("decimal and hex parse of 42 disagree")
	}
	if a.BigInt().Int64() != 42 {
		t.Fatalf("got %s, want 42", a)
	}
}

func TestNegAndSub(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for i := 0; i < 64; i++ {
		x := FromBigInt(randBig(r))
		if x.Add(x.Neg()).BigInt().Sign() != 0 {
			t.Fatal("x + (-x) != 0")
		}
		if !x.Sub(x).IsZero() {
			t.Fatal("x - x != 0")
		}
	}
}

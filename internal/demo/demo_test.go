package demo

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/replication"
)

func TestStepStaysInBounds(t *testing.T) {
	w := NewWorld(1)
	w.Populate(50)

	for range 2000 {
		w.Step(0.05)
	}

	x, z := w.Transform.Field("x"), w.Transform.Field("z")
	for _, e := range w.Entities() {
		if math.Abs(x.Get(e)) > Bounds || math.Abs(z.Get(e)) > Bounds {
			t.Fatalf("entity %d at (%v, %v) left the box", e, x.Get(e), z.Get(e))
		}
		hp := w.Health.Field("hp").Get(e)
		if hp <= 0 || hp > 100 {
			t.Errorf("entity %d hp = %v, want (0, 100]", e, hp)
		}
	}
}

func TestRegistryFingerprintDependsOnEncoding(t *testing.T) {
	plain, err := NewWorld(1).Registry(Options{})
	if err != nil {
		t.Fatalf("Registry() error = %v", err)
	}
	again, _ := NewWorld(2).Registry(Options{})
	compressed, _ := NewWorld(1).Registry(Options{Compressed: true})

	if plain.Fingerprint() != again.Fingerprint() {
		t.Error("equal options produced different fingerprints")
	}
	if plain.Fingerprint() == compressed.Fingerprint() {
		t.Error("compressed and plain registries share a fingerprint")
	}
	if plain.Len() != 3 {
		t.Errorf("Len() = %d, want 3", plain.Len())
	}
}

func TestReplicaConverges(t *testing.T) {
	for _, opts := range []Options{{}, {Compressed: true}} {
		src := NewWorld(7)
		src.Populate(20)
		wreg, _ := src.Registry(opts)
		w := replication.NewWriter(replication.WriterConfig{Registry: wreg, Origin: uuid.New()})

		dst := NewWorld(0)
		rreg, _ := dst.Registry(opts)
		r := replication.NewReader(rreg, dst)

		clock := replication.NewStepClock(20)
		for range 40 {
			src.Step(clock.Step())
			clock.Advance()
			packet, _ := w.Write(clock, src.Replicated(w.PeerIndex()))
			if _, err := r.Read(packet); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
		}

		tol := 0.0
		if opts.Compressed {
			tol = 0.051
		}
		for _, e := range src.Entities() {
			local, ok := dst.Lookup(uint32(e))
			if !ok {
				t.Fatalf("entity %d was never replicated", e)
			}
			for _, f := range []string{"x", "y", "z"} {
				want := src.Transform.Field(f).Get(e)
				got := dst.Transform.Field(f).Get(local)
				if math.Abs(got-want) > tol {
					t.Errorf("compressed=%v entity %d %s = %v, want %v", opts.Compressed, e, f, got, want)
				}
			}
			if got, want := dst.Health.Field("hp").Get(local), src.Health.Field("hp").Get(e); got != want {
				t.Errorf("entity %d hp = %v, want %v", e, got, want)
			}
		}
	}
}

func TestCompressedIsSmaller(t *testing.T) {
	size := func(opts Options) int {
		src := NewWorld(3)
		src.Populate(100)
		reg, _ := src.Registry(opts)
		w := replication.NewWriter(replication.WriterConfig{Registry: reg})
		packet, _ := w.Write(replication.NewStepClock(20), src.Replicated(0))
		return len(packet)
	}

	plain, compressed := size(Options{}), size(Options{Compressed: true})
	if compressed >= plain {
		t.Errorf("compressed packet %d bytes, plain %d; want compressed smaller", compressed, plain)
	}
}

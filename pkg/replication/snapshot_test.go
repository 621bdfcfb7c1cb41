package replication

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/protocol"
)

// world is a small two-component store shared by the snapshot tests.
type world struct {
	transform *transformStore
	health    *healthStore
	reg       *Registry
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{transform: newTransformStore(), health: newHealthStore(), reg: NewRegistry()}
	w.transform.register(t, w.reg, false)
	w.health.register(t, w.reg)
	return w
}

func (w *world) spawn(e Entity, x float64) Replicated {
	w.transform.put(e, [3]float64{x, 0, 0}, [4]float64{0, 0, 0, 1})
	w.health.has[e], w.health.hp[e] = true, 100
	return Replicated{Entity: e, NetworkID: uint32(e), OwnerIndex: 0}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	src := newWorld(t)
	entities := []Replicated{src.spawn(1, 1), src.spawn(2, 2), src.spawn(3, 3)}

	w := NewWriter(WriterConfig{Registry: src.reg})
	clock := NewStepClock(20)
	clock.Advance()

	packet, stats := w.Write(clock, entities)
	if stats.Written != 3 || stats.Considered != 3 || stats.Bytes != len(packet) {
		t.Errorf("Write() stats = %+v, want 3 of 3 written", stats)
	}

	dst := newWorld(t)
	nm := newNetMap()
	snap, err := NewReader(dst.reg, nm).Read(packet)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if snap.PeerIndex != w.PeerIndex() {
		t.Errorf("PeerIndex = %d, want %d", snap.PeerIndex, w.PeerIndex())
	}
	if snap.Tick != 0.05 {
		t.Errorf("Tick = %v, want 0.05", snap.Tick)
	}
	if len(snap.Entities) != 3 {
		t.Fatalf("len(Entities) = %d, want 3", len(snap.Entities))
	}
	for i, b := range snap.Entities {
		if b.NetworkID != uint32(i+1) {
			t.Errorf("Entities[%d].NetworkID = %d, want %d", i, b.NetworkID, i+1)
		}
		if got := dst.transform.px[b.Entity]; got != float64(i+1) {
			t.Errorf("Entities[%d] position x = %v, want %v", i, got, i+1)
		}
	}
}

func TestWriterIdempotent(t *testing.T) {
	src := newWorld(t)
	entities := []Replicated{src.spawn(1, 1), src.spawn(2, 2)}

	w := NewWriter(WriterConfig{Registry: src.reg})
	clock := NewStepClock(10)

	w.Write(clock, entities)
	clock.Advance()
	packet, stats := w.Write(clock, entities)

	if stats.Written != 0 {
		t.Errorf("second Write() wrote %d entities, want 0", stats.Written)
	}
	if len(packet) != 4+8+4 {
		t.Errorf("second Write() = %d bytes, want 16", len(packet))
	}

	snap, err := NewReader(newWorld(t).reg, newNetMap()).Read(packet)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(snap.Entities) != 0 {
		t.Errorf("EntityCount = %d, want 0", len(snap.Entities))
	}
	if snap.Tick != 0.1 {
		t.Errorf("Tick = %v, want 0.1", snap.Tick)
	}
	if snap.PeerIndex != w.PeerIndex() {
		t.Errorf("PeerIndex = %d, want %d", snap.PeerIndex, w.PeerIndex())
	}
}

func TestWriterCountsOnlyChangedEntities(t *testing.T) {
	src := newWorld(t)
	entities := []Replicated{src.spawn(1, 1), src.spawn(2, 2), src.spawn(3, 3)}

	w := NewWriter(WriterConfig{Registry: src.reg})
	clock := NewStepClock(10)
	w.Write(clock, entities)

	src.health.hp[2] = 50
	clock.Advance()
	packet, stats := w.Write(clock, entities)
	if stats.Written != 1 {
		t.Fatalf("Write() wrote %d entities, want 1", stats.Written)
	}

	r := protocol.NewCursorFrom(packet[12:])
	if n, _ := r.ReadU32(); n != 1 {
		t.Errorf("EntityCount = %d, want 1", n)
	}
	if id, _ := r.ReadU32(); id != 2 {
		t.Errorf("NetworkId = %d, want 2", id)
	}
}

func TestWriterPeriodicResync(t *testing.T) {
	src := newWorld(t)
	flagged := src.spawn(1, 1)
	flagged.Resync = true
	plain := src.spawn(2, 2)
	entities := []Replicated{flagged, plain}

	w := NewWriter(WriterConfig{Registry: src.reg, Policy: ResyncPolicy{Period: 4}})
	clock := NewStepClock(10)

	var written []int
	for tick := 0; tick <= 8; tick++ {
		_, stats := w.Write(clock, entities)
		written = append(written, stats.Written)
		clock.Advance()
	}

	want := []int{2, 0, 0, 0, 1, 0, 0, 0, 1}
	for i := range want {
		if written[i] != want[i] {
			t.Errorf("tick %d wrote %d entities, want %d", i, written[i], want[i])
		}
	}
}

func TestWriterForceNext(t *testing.T) {
	src := newWorld(t)
	entities := []Replicated{src.spawn(1, 1), src.spawn(2, 2)}

	w := NewWriter(WriterConfig{Registry: src.reg})
	clock := NewStepClock(10)
	full, _ := w.Write(clock, entities)

	w.ForceNext()
	clock.Advance()
	forced, stats := w.Write(clock, entities)
	if !stats.Forced || stats.Written != 2 {
		t.Errorf("forced Write() stats = %+v, want Forced with 2 written", stats)
	}
	if len(forced) != len(full) {
		t.Errorf("forced packet = %d bytes, want %d", len(forced), len(full))
	}

	clock.Advance()
	_, stats = w.Write(clock, entities)
	if stats.Forced || stats.Written != 0 {
		t.Errorf("Write() after forced tick stats = %+v, want nothing written", stats)
	}
}

func TestWriterForget(t *testing.T) {
	src := newWorld(t)
	entities := []Replicated{src.spawn(1, 1), src.spawn(2, 2)}

	w := NewWriter(WriterConfig{Registry: src.reg})
	clock := NewStepClock(10)
	w.Write(clock, entities)

	w.Forget(2)
	_, stats := w.Write(clock, entities)
	if stats.Written != 1 {
		t.Errorf("Write() after Forget wrote %d entities, want 1", stats.Written)
	}
}

func TestWriterPeerIndex(t *testing.T) {
	peers := NewPeerTable()
	peers.Add(uuid.New())
	origin := uuid.New()

	w := NewWriter(WriterConfig{Registry: NewRegistry(), Peers: peers, Origin: origin})
	packet, _ := w.Write(NewStepClock(1), nil)

	idx, _ := protocol.NewCursorFrom(packet).ReadU32()
	if idx != 1 {
		t.Errorf("PeerIndex = %d, want 1", idx)
	}
	if w.Origin() != origin {
		t.Errorf("Origin() = %v, want %v", w.Origin(), origin)
	}
}

func TestReaderDesync(t *testing.T) {
	src := newWorld(t)
	w := NewWriter(WriterConfig{Registry: src.reg})
	packet, _ := w.Write(NewStepClock(10), []Replicated{src.spawn(1, 1)})

	tests := []struct {
		name      string
		packet    []byte
		wantErr   error
		wantStage string
	}{
		{"empty", nil, protocol.ErrBufferOverrun, StageHeader},
		{"header only", packet[:12], protocol.ErrBufferOverrun, StageHeader},
		{"truncated entity", packet[:len(packet)-1], protocol.ErrBufferOverrun, StageComponent},
		{"trailing byte", append(append([]byte{}, packet...), 0), ErrTrailingBytes, StageTrailer},
		{"huge count", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}, ErrTooManyEntities, StageHeader},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReader(newWorld(t).reg, newNetMap()).Read(tc.packet)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tc.wantErr)
			}
			var de *DesyncError
			if !errors.As(err, &de) {
				t.Fatalf("Read() error %T is not a *DesyncError", err)
			}
			if de.Stage != tc.wantStage {
				t.Errorf("Stage = %q, want %q", de.Stage, tc.wantStage)
			}
		})
	}
}

func TestResyncPolicyDue(t *testing.T) {
	tests := []struct {
		period uint64
		tick   uint64
		want   bool
	}{
		{0, 0, false},
		{0, 10, false},
		{5, 0, true},
		{5, 3, false},
		{5, 10, true},
		{1, 7, true},
	}

	for _, tc := range tests {
		if got := (ResyncPolicy{Period: tc.period}).Due(tc.tick); got != tc.want {
			t.Errorf("ResyncPolicy{%d}.Due(%d) = %v, want %v", tc.period, tc.tick, got, tc.want)
		}
	}
}

func FuzzReaderRead(f *testing.F) {
	src := newWorldF()
	w := NewWriter(WriterConfig{Registry: src.reg})
	e1 := src.spawn(1, 1)
	packet, _ := w.Write(NewStepClock(10), []Replicated{e1})

	f.Add(packet)
	f.Add([]byte{})
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})

	f.Fuzz(func(t *testing.T, data []byte) {
		dst := newWorldF()
		_, err := NewReader(dst.reg, newNetMap()).Read(data)
		if err != nil && !IsDesync(err) {
			t.Errorf("Read() error %v is not a desync", err)
		}
	})
}

// newWorldF builds a world without a *testing.T for fuzz seeds.
func newWorldF() *world {
	w := &world{transform: newTransformStore(), health: newHealthStore(), reg: NewRegistry()}
	w.reg.Define("transform", w.transform.has).
		Vector3("position", w.transform.px, w.transform.py, w.transform.pz).
		Quaternion("rotation", w.transform.qx, w.transform.qy, w.transform.qz, w.transform.qw).
		Register()
	w.reg.Define("health", w.health.has).Field("hp", KindU8, w.health.hp).Register()
	return w
}

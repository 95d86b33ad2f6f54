// Package viz renders snapshots of a run. Sinks never fail the run: rendering
// errors are logged and dropped.
package viz

import "github.com/notargets/KrylovStepper/mesh"

// Snapshot is a read-only view of the fields after a step. Sinks must not
// retain the slices past Emit.
type Snapshot struct {
	Step    int
	Time    float64
	U, V, W []float64
	B       []float64
	Mesh    mesh.Box
}

// Sink receives snapshots
type Sink interface {
	Emit(s Snapshot)
}

// Discard drops every snapshot
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Snapshot) {}

// Multi fans a snapshot out to several sinks
type Multi []Sink

func (m Multi) Emit(s Snapshot) {
	for _, sink := range m {
		sink.Emit(s)
	}
}

// cellSpeed is the cell-centred speed of cell c
func cellSpeed(s Snapshot, c int) float64 { return s.Mesh.CellSpeed(s.U, s.V, s.W, c) }

package state

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/notargets/KrylovStepper/fileio"
	"github.com/notargets/KrylovStepper/spmat"
	"github.com/sirupsen/logrus"
)

const checkpointMagic = "KSCHK1\n"

// ErrNoCheckpoint is returned by Latest when the directory holds none
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Store writes numbered checkpoints <dir>/<prefix>_NNNNNN.chk
type Store struct {
	Dir    string
	Prefix string
	log    *logrus.Logger
}

func NewStore(dir, prefix string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if prefix == "" {
		prefix = "state"
	}
	return &Store{Dir: dir, Prefix: prefix, log: logger}
}

// Path is the checkpoint file of save index idx
func (s *Store) Path(idx int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s_%06d.chk", s.Prefix, idx))
}

// Save writes sim under its SaveIndex, replacing any earlier file atomically
func (s *Store) Save(sim Simulation) (string, error) {
	path := s.Path(sim.SaveIndex)
	err := fileio.WriteAtomic(path, func(w io.Writer) error { return Encode(w, sim) })
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"path": path, "index": sim.SaveIndex, "time": sim.Time,
	}).Info("checkpoint written")
	return path, nil
}

// Load reads a checkpoint written by Save
func (s *Store) Load(path string) (Simulation, error) {
	f, err := os.Open(path)
	if err != nil {
		return Simulation{}, err
	}
	defer f.Close()
	sim, err := Decode(f)
	if err != nil {
		return Simulation{}, fmt.Errorf("load %s: %w", path, err)
	}
	return sim, nil
}

// Latest returns the checkpoint with the highest save index
func (s *Store) Latest() (string, int, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, ErrNoCheckpoint
	}
	if err != nil {
		return "", 0, err
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(s.Prefix) + `_(\d{6,})\.chk$`)
	best := -1
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err == nil && idx > best {
			best = idx
		}
	}
	if best < 0 {
		return "", 0, ErrNoCheckpoint
	}
	return s.Path(best), best, nil
}

// Encode writes the checkpoint payload: magic, int64 save index, then time
// and the U, V, W, P, B fields as gonum binary vectors
func Encode(w io.Writer, sim Simulation) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(checkpointMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, int64(sim.SaveIndex)); err != nil {
		return err
	}
	for _, v := range [][]float64{{sim.Time}, sim.U, sim.V, sim.W, sim.P, sim.B} {
		if err := spmat.WriteVector(bw, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads a payload written by Encode
func Decode(r io.Reader) (Simulation, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return Simulation{}, fmt.Errorf("read checkpoint magic: %w", err)
	}
	if string(magic) != checkpointMagic {
		return Simulation{}, fmt.Errorf("not a checkpoint (magic %q)", magic)
	}
	var idx int64
	if err := binary.Read(br, binary.LittleEndian, &idx); err != nil {
		return Simulation{}, fmt.Errorf("read save index: %w", err)
	}
	fields := make([][]float64, 6)
	for i := range fields {
		v, err := spmat.ReadVector(br, spmat.MaxDim)
		if err != nil {
			return Simulation{}, fmt.Errorf("read field %d: %w", i, err)
		}
		fields[i] = v
	}
	if len(fields[0]) != 1 {
		return Simulation{}, fmt.Errorf("corrupt checkpoint time record of length %d", len(fields[0]))
	}
	return Simulation{
		Time:      fields[0][0],
		U:         fields[1],
		V:         fields[2],
		W:         fields[3],
		P:         fields[4],
		B:         fields[5],
		SaveIndex: int(idx),
	}, nil
}

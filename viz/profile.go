package viz

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Profile appends the horizontally averaged buoyancy and rms speed of every
// level to a CSV file, one block of Nz rows per snapshot
type Profile struct {
	Path string
	log  *logrus.Logger

	mu     sync.Mutex
	header bool
}

func NewProfile(path string, logger *logrus.Logger) *Profile {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Profile{Path: path, log: logger}
}

// Levels returns the level heights, mean buoyancy and rms speed of s
func Levels(s Snapshot) (z, b, speed []float64) {
	box := s.Mesh
	z = make([]float64, box.Nz)
	b = make([]float64, box.Nz)
	speed = make([]float64, box.Nz)
	n := float64(box.Nx * box.Ny)
	for c := 0; c < box.Cells(); c++ {
		_, _, k := box.CellIJK(c)
		b[k] += s.B[c] / n
		sp := cellSpeed(s, c)
		speed[k] += sp * sp / n
	}
	for k := range z {
		z[k] = (float64(k) + 0.5) * box.H()[2]
		speed[k] = math.Sqrt(speed[k])
	}
	return z, b, speed
}

func (p *Profile) Emit(s Snapshot) {
	if len(s.B) != s.Mesh.Cells() {
		p.log.WithField("step", s.Step).Warn("profile skipped: snapshot does not match its mesh")
		return
	}
	if err := p.write(s); err != nil {
		p.log.WithError(err).WithField("path", p.Path).Warn("profile not written")
	}
}

func (p *Profile) write(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p.Path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(p.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if !p.header {
		if st, err := f.Stat(); err == nil && st.Size() == 0 {
			if err := w.Write([]string{"step", "t", "z", "b_mean", "speed_rms"}); err != nil {
				return err
			}
		}
		p.header = true
	}
	z, b, speed := Levels(s)
	step := strconv.Itoa(s.Step)
	t := strconv.FormatFloat(s.Time, 'g', -1, 64)
	for k := range z {
		rec := []string{
			step, t,
			strconv.FormatFloat(z[k], 'g', -1, 64),
			strconv.FormatFloat(b[k], 'e', 10, 64),
			strconv.FormatFloat(speed[k], 'e', 10, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

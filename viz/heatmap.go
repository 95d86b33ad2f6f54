package viz

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/notargets/KrylovStepper/fileio"
	"github.com/notargets/KrylovStepper/mesh"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// slice is the x-z plane of a cell field at a fixed j, as a plotter.GridXYZ
type slice struct {
	box   mesh.Box
	j     int
	value func(c int) float64
}

func (s slice) Dims() (c, r int) { return s.box.Nx, s.box.Nz }
func (s slice) Z(c, r int) float64 {
	return s.value(s.box.Cell(c, s.j, r))
}
func (s slice) X(c int) float64 { return (float64(c) + 0.5) * s.box.H()[0] }
func (s slice) Y(r int) float64 { return (float64(r) + 0.5) * s.box.H()[2] }

// HeatMap renders the buoyancy and speed on the mid-y plane to PNG files
// <Dir>/b_NNNNNN.png and <Dir>/speed_NNNNNN.png
type HeatMap struct {
	Dir    string
	Width  vg.Length
	Height vg.Length
	log    *logrus.Logger
}

func NewHeatMap(dir string, logger *logrus.Logger) *HeatMap {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HeatMap{Dir: dir, Width: 5 * vg.Inch, Height: 4 * vg.Inch, log: logger}
}

// Path returns the image file of field name at step
func (h *HeatMap) Path(name string, step int) string {
	return filepath.Join(h.Dir, fmt.Sprintf("%s_%06d.png", name, step))
}

func (h *HeatMap) Emit(s Snapshot) {
	if s.Mesh.Cells() == 0 || len(s.B) != s.Mesh.Cells() {
		h.log.WithField("step", s.Step).Warn("heat map skipped: snapshot does not match its mesh")
		return
	}
	j := s.Mesh.Ny / 2
	fields := []struct {
		name  string
		value func(c int) float64
	}{
		{"b", func(c int) float64 { return s.B[c] }},
		{"speed", func(c int) float64 { return cellSpeed(s, c) }},
	}
	for _, f := range fields {
		path := h.Path(f.name, s.Step)
		if err := h.render(slice{box: s.Mesh, j: j, value: f.value}, fmt.Sprintf("%s  t=%.4g", f.name, s.Time), path); err != nil {
			h.log.WithError(err).WithField("path", path).Warn("heat map not written")
			continue
		}
		h.log.WithField("path", path).Debug("heat map written")
	}
}

func (h *HeatMap) render(g plotter.GridXYZ, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "z"
	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	if hm.Min == hm.Max {
		// a uniform field still needs a non-empty colour range
		hm.Min, hm.Max = hm.Min-0.5, hm.Max+0.5
	}
	p.Add(hm)
	c, err := p.WriterTo(h.Width, h.Height, "png")
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(path, func(w io.Writer) error {
		_, err := c.WriteTo(w)
		return err
	})
}

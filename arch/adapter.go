// Package arch selects the execution architecture for the process and converts
// vectors and sparse matrices between host memory and OCCA device memory.
//
// An Adapter is created once by the driver and passed to every constructor that
// owns numerical data. Values carry the adapter that produced them; mixing
// values across adapters is a configuration error.
package arch

import (
	"fmt"

	"github.com/notargets/KrylovStepper/simerr"
	"github.com/notargets/gocca"
	"github.com/sirupsen/logrus"
)

// Config selects the architecture. DeviceProps are OCCA property strings tried
// in order for Accelerator; empty selects DefaultDeviceProps.
type Config struct {
	Kind        Kind
	DeviceProps []string
	Logger      *logrus.Logger
}

// Adapter is the process-wide architecture selection
type Adapter struct {
	kind   Kind
	runner *Runner
	log    *logrus.Logger
}

// New creates the adapter described by cfg
func New(cfg Config) (*Adapter, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch cfg.Kind {
	case Host:
		log.WithField("arch", Host).Info("selected architecture")
		return &Adapter{kind: Host, log: log}, nil
	case Accelerator:
		device, err := NewDevice(cfg.DeviceProps)
		if err != nil {
			return nil, simerr.Configuration("accelerator unavailable: %v", err)
		}
		a := NewAccelerator(device)
		a.log = log
		log.WithFields(logrus.Fields{"arch": Accelerator, "mode": device.Mode()}).Info("selected architecture")
		return a, nil
	}
	return nil, simerr.Configuration("unknown architecture %v", cfg.Kind)
}

// NewAccelerator wraps an existing device
func NewAccelerator(device *gocca.OCCADevice) *Adapter {
	return &Adapter{kind: Accelerator, runner: NewRunner(device), log: logrus.StandardLogger()}
}

// Kind returns the selected architecture
func (a *Adapter) Kind() Kind { return a.kind }

// Runner returns the kernel runner; nil for Host adapters
func (a *Adapter) Runner() *Runner { return a.runner }

// Logger returns the adapter's logger
func (a *Adapter) Logger() *logrus.Logger { return a.log }

// Require rejects a component built for a different architecture
func (a *Adapter) Require(kind Kind) error {
	if a == nil {
		return simerr.Configuration("no architecture selected")
	}
	if a.kind != kind {
		return simerr.Configuration("component requires %v, process architecture is %v", kind, a.kind)
	}
	return nil
}

// RequireCapability rejects a strategy the architecture cannot run
func (a *Adapter) RequireCapability(c Capability) error {
	if !a.kind.Supports(c) {
		return simerr.Configuration("%v is not supported on %v", c, a.kind)
	}
	return nil
}

// Close releases device resources
func (a *Adapter) Close() {
	if a.runner != nil {
		a.runner.Free()
		a.runner.Device.Free()
		a.runner = nil
	}
}

func (a *Adapter) String() string {
	if a.runner != nil {
		return fmt.Sprintf("%v(%s)", a.kind, a.runner.Device.Mode())
	}
	return a.kind.String()
}

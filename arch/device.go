package arch

import (
	"fmt"
	"strings"

	"github.com/notargets/gocca"
	"github.com/sirupsen/logrus"
)

// DefaultDeviceProps lists the OCCA backends tried in order when no explicit
// device properties are configured: parallel backends first, Serial last.
var DefaultDeviceProps = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// NewDevice creates the first OCCA device that can be constructed from props
func NewDevice(props []string) (*gocca.OCCADevice, error) {
	if len(props) == 0 {
		props = DefaultDeviceProps
	}
	var failures []string
	for _, p := range props {
		device, err := gocca.NewDevice(p)
		if err == nil {
			return device, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", p, err))
	}
	return nil, fmt.Errorf("no OCCA device could be created (%s)", strings.Join(failures, "; "))
}

// NewTestDevice creates a device for testing, preferring parallel backends
func NewTestDevice() *gocca.OCCADevice {
	device, err := NewDevice(nil)
	if err != nil {
		panic(err)
	}
	logrus.Debugf("created %s device", device.Mode())
	return device
}

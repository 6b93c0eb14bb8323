package detector

import (
	"context"
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const probeTimeout = 5 * time.Second

// ImageChecker answers whether a host process carries an image name.
// *Guard implements it.
type ImageChecker interface {
	IsRunning(ctx context.Context, image string) (bool, error)
}

// ImageDetector is alive while any host process carries the image name.
type ImageDetector struct {
	Guard ImageChecker
	Image string
}

func (d ImageDetector) Alive() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return d.Guard.IsRunning(ctx, d.Image)
}

func (d ImageDetector) Describe() string { return "image:" + ImageName(d.Image) }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return gopsproc.PidExistsWithContext(ctx, int32(d.PID)) // #nosec G115
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

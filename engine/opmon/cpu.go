package opmon

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// StartCPUSampler samples the cpu usage of this process every interval into ProcessCPUPercent until ctx is done
func StartCPUSampler(ctx context.Context, interval time.Duration) error {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return errors.Wrapf(err, "find process %d", pid)
	}
	gwlog.Infof("opmon: sampling cpu of process %d every %s", pid, interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pcnt, err := p.CPUPercentWithContext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					gwlog.Warnf("opmon: get process cpu percent failed: %s", err)
				}
				continue
			}
			ProcessCPUPercent.Set(pcnt)
			Dump()
		}
	}()
	return nil
}

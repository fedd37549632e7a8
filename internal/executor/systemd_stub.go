//go:build !linux

package executor

import (
	"errors"

	logx "dockmate/pkg/logx"
)

func newSystemd(cfg Config, log logx.Logger) (Executor, error) {
	return nil, errors.New("systemd backend is only available on linux")
}

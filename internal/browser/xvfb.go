package browser

import (
	"fmt"
	"os/exec"
	"time"
)

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1440x900x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	m.xvfb = cmd
	time.Sleep(500 * time.Millisecond)
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		_ = m.xvfb.Process.Kill()
		_ = m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}

package procgroup

import (
	"os"
	"syscall"
	"time"
)

// Signal delivers sig to every process in p's group.
func Signal(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// Step is one stage of a shutdown escalation: send Sig (zero means send
// nothing) and give the group Wait to exit.
type Step struct {
	Sig  syscall.Signal
	Wait time.Duration
}

// DefaultSteps waits for a voluntary exit after stdin closes, then interrupts
// the group, then kills it.
var DefaultSteps = []Step{
	{Wait: 500 * time.Millisecond},
	{Sig: syscall.SIGINT, Wait: 500 * time.Millisecond},
	{Sig: syscall.SIGKILL, Wait: 200 * time.Millisecond},
}

// Shutdown walks steps until exited is closed. It reports whether the
// process exited before the last step's wait ran out.
func Shutdown(p *os.Process, exited <-chan struct{}, steps []Step) bool {
	for _, st := range steps {
		if st.Sig != 0 {
			_ = Signal(p, st.Sig)
		}
		timer := time.NewTimer(st.Wait)
		select {
		case <-exited:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}
	return false
}

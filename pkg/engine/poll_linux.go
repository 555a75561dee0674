//go:build linux

package engine

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PollSource multiplexa os descritores do produtor e do consumidor com
// poll(2). É a implementação real do ponto de espera; os testes usam uma
// fonte sintética.
type PollSource struct {
	ProducerFd int
	DisplayFd  int
}

func (s *PollSource) Wait(timeout time.Duration) (Event, error) {
	fds := []unix.PollFd{
		{Fd: int32(s.ProducerFd), Events: unix.POLLIN},
		{Fd: int32(s.DisplayFd), Events: unix.POLLIN},
	}

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return EventNone, nil
		}
		return EventNone, err
	}
	if n == 0 {
		return EventTimeout, nil
	}

	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		return EventNone, fmt.Errorf("descritor do produtor sinalizou erro")
	}
	if fds[1].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		return EventNone, fmt.Errorf("descritor do consumidor sinalizou erro")
	}

	// Frame pronto tem prioridade: é ele que move a máquina de estados.
	if fds[0].Revents&unix.POLLIN != 0 {
		return EventProducerReady, nil
	}
	if fds[1].Revents&unix.POLLIN != 0 {
		return EventDisplay, nil
	}
	return EventNone, nil
}

// Package attach resolves interface names and attaches their receive queues.
package attach

import (
	"fmt"

	"firestige.xyz/rxprobe/internal/capture"
	"firestige.xyz/rxprobe/internal/core"
	"firestige.xyz/rxprobe/internal/log"
)

// NotFoundError reports an interface name that no listed device carries.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Interface %s does not exist!", e.Name)
}

// Resolve maps names to devices in first-occurrence order. A device named
// more than once, or under two names sharing an index, is kept once.
func Resolve(devices []capture.Device, names []string) ([]capture.Device, error) {
	byName := make(map[string]capture.Device, len(devices))
	for _, d := range devices {
		byName[d.Name] = d
	}

	seen := make(map[int]struct{}, len(names))
	out := make([]capture.Device, 0, len(names))
	for _, name := range names {
		d, ok := byName[name]
		if !ok {
			return nil, &NotFoundError{Name: name}
		}
		if _, dup := seen[d.Index]; dup {
			continue
		}
		seen[d.Index] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, core.ErrNoInterfaces
	}
	return out, nil
}

// Queues lists receive queues 0..RxQueues-1 of dev. A device that reports no
// queue count still has queue 0.
func Queues(dev capture.Device) []capture.Queue {
	n := dev.RxQueues
	if n < 1 {
		n = 1
	}
	qs := make([]capture.Queue, n)
	for i := range qs {
		qs[i] = capture.Queue{IfIndex: dev.Index, Index: i}
	}
	return qs
}

// Attach attaches every queue of every device to h, in order, and returns
// the queues attached. It stops at the first failure.
func Attach(h capture.Handle, devs []capture.Device) ([]capture.Queue, error) {
	if len(devs) == 0 {
		return nil, core.ErrNoInterfaces
	}

	var attached []capture.Queue
	for _, dev := range devs {
		for _, q := range Queues(dev) {
			if err := h.Attach(q); err != nil {
				return attached, fmt.Errorf("attach %s queue %d: %w", dev.Name, q.Index, err)
			}
			attached = append(attached, q)
		}
		log.GetLogger().WithFields(map[string]interface{}{
			"device": dev.Name,
			"index":  dev.Index,
			"queues": dev.RxQueues,
		}).Info("device attached")
	}
	return attached, nil
}

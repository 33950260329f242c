package app

import (
	"fmt"
	"strings"

	"sparkrt/hal"
	"sparkrt/kernel"
)

// faultHandler reports a kernel fault on the HAL console. It writes
// directly to the HAL logger so it works when the structured logger is
// itself wedged.
func faultHandler(h hal.HAL) kernel.FaultHandler {
	return func(info kernel.FaultInfo) {
		l := h.Logger()
		if l == nil {
			return
		}
		l.WriteLineString(fmt.Sprintf("sparkrt fault: task=%d err=%v", info.TaskID, info.Err))
		if len(info.Stack) == 0 {
			l.WriteLineString("stack: unavailable")
			return
		}
		for _, line := range strings.Split(string(info.Stack), "\n") {
			if line == "" {
				continue
			}
			l.WriteLineString(line)
		}
	}
}

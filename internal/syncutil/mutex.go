//go:build !deadlock
// +build !deadlock

package syncutil

import "sync"

// Mutex guards one auction instance's state.
type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}

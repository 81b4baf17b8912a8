// Copyright (C) The hicrep-go Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package hicrep

import "sync"

// throttle runs functions on at most Max concurrent goroutines and
// remembers the first error any of them returns.
type throttle struct {
	Max       int
	setupOnce sync.Once
	ch        chan struct{}
	wg        sync.WaitGroup
	mtx       sync.Mutex
	err       error
}

func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan struct{}, t.Max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		if err := f(); err != nil {
			t.mtx.Lock()
			if t.err == nil {
				t.err = err
			}
			t.mtx.Unlock()
		}
	}()
}

func (t *throttle) Wait() error {
	t.wg.Wait()
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

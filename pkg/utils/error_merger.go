// Package utils holds small helpers shared across services.
package utils

import "sync"

// MergeErrorChans fans several error channels into one. The merged
// channel closes once every input channel has closed, so the caller can
// range over it to collect errors from concurrent listeners.
func MergeErrorChans(channels ...chan error) chan error {
	out := make(chan error)
	var wg sync.WaitGroup

	for _, ch := range channels {
		wg.Add(1)
		go func(c chan error) {
			defer wg.Done()
			for err := range c {
				out <- err
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

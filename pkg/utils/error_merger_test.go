package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeErrorChans(t *testing.T) {
	ch1 := make(chan error, 1)
	ch2 := make(chan error, 1)
	merged := MergeErrorChans(ch1, ch2)

	ch1 <- errors.New("listener one")
	ch2 <- errors.New("listener two")
	close(ch1)
	close(ch2)

	var got []string
	timeout := time.After(time.Second)
	for {
		select {
		case err, ok := <-merged:
			if !ok {
				assert.ElementsMatch(t, []string{"listener one", "listener two"}, got)
				return
			}
			got = append(got, err.Error())
		case <-timeout:
			t.Fatal("merged channel never closed")
		}
	}
}

func TestMergeErrorChansNoInputs(t *testing.T) {
	merged := MergeErrorChans()
	select {
	case _, ok := <-merged:
		assert.False(t, ok, "channel should close immediately")
	case <-time.After(time.Second):
		t.Fatal("merged channel never closed")
	}
}

package tts

import (
	"strconv"
	"sync/atomic"
	"time"
)

var contextCounter atomic.Uint64

// NewContextID returns a process-unique context identifier made only of
// letters, digits and underscores, as the Cartesia protocol requires.
func NewContextID() string {
	n := contextCounter.Add(1)
	return "ctx_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + strconv.FormatUint(n, 10)
}

package timex

import "time"

// NowMs returns Unix milliseconds as int64. File creation stamps use this so
// images decode the same on host and MCU builds.
func NowMs() int64 { return time.Now().UnixMilli() }

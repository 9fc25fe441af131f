// Package log is a small leveled logger in the teacher's own shape
// (timestamp-prefixed fmt.Printf lines under a mutex, debug/request
// logging gated by an explicit switch rather than a library) — grounded on
// the teacher's log.go, which itself uses no external logging library.
// That is carried forward deliberately: the teacher repo's one ambient
// concern with no third-party dependency is logging, so this client's
// logging stays hand-rolled too rather than reaching for a library the
// teacher never used.
package log

import (
	"fmt"
	"sync"
	"time"
)

var mu sync.Mutex

// DebugEnabled gates Debug output. Unlike the teacher's env-var switch
// (there is no ambient process environment this library should read on its
// own), callers flip this explicitly — e.g. the CLI harness sets it from a
// -debug flag.
var DebugEnabled = false

func Line(line string) {
	tm := time.Now()
	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("[%s] %s\n", tm.Format("2006-01-02 15:04:05"), line)
}

func Info(line string)    { Line("[INFO] " + line) }
func Warning(line string) { Line("[WARNING] " + line) }

func Error(err error) {
	if err == nil {
		return
	}
	Line("[ERROR] " + err.Error())
}

func Debug(line string) {
	if DebugEnabled {
		Line("[DEBUG] " + line)
	}
}

// MaskStreamKey returns the last 4 characters of a stream key, prefixed
// with asterisks, so no call site can accidentally log a credential in
// full. Per spec §3 the stream key is "never logged in full — masked to
// last-4".
func MaskStreamKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Session formats a per-session log line identity the way the teacher's
// LogDebugSession/LogRequest prefix session id + peer identity, generalized
// here to the masked stream key instead of a raw numeric session id plus IP.
func Session(channel string, maskedKey string, line string) {
	Line(fmt.Sprintf("[%s/%s] %s", channel, maskedKey, line))
}

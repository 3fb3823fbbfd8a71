package logger

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// The sweep and queue loops log on every iteration, so debug output is
// opt-in via LOG_DEBUG to keep steady-state logs readable.

var debugEnabled atomic.Bool

// Init sets the logging flags and reads LOG_DEBUG (called once from main).
func Init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	switch strings.ToLower(os.Getenv("LOG_DEBUG")) {
	case "1", "true", "yes":
		debugEnabled.Store(true)
	}
}

func Infof(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

func Warnf(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

func Errorf(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

func Debugf(format string, v ...any) {
	if !debugEnabled.Load() {
		return
	}
	log.Printf("[DEBUG] "+format, v...)
}

func Fatalf(format string, v ...any) {
	log.Fatalf("[FATAL] "+format, v...)
}

package pmx

import "log"

// Verbose enables per-section load/save logging.
var Verbose = false

func debugf(format string, args ...interface{}) {
	if Verbose {
		log.Printf(format, args...)
	}
}

package server

import (
	"os"
	"path/filepath"

	l "github.com/sirupsen/logrus"
)

const logFilename = "cdscore.log"

// setupLogging sets up logging into logDir with the level logLevel. If the
// log file does not exist yet, it is created.
func setupLogging(logDir, logLevel string) (err error) {
	// set up logging: no log entries possible before this statement!
	level, err := l.ParseLevel(logLevel)
	if err != nil {
		return
	}

	path := filepath.Join(logDir, logFilename)

	// create or open file for write & append
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return
	}

	l.SetOutput(f)
	l.SetLevel(level)
	return
}

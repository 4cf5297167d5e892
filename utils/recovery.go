package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

var panicFilename = "panic_dump"

// PanicDumpDir is where Recover writes panic dumps.  Empty means the working
// directory.
var PanicDumpDir = ""

// Recover logs a recovered panic together with its stack and dumps both to a
// file.  It must be deferred directly.
func Recover() {
	if err := recover(); err != nil {
		var buf [4096]byte
		n := runtime.Stack(buf[:], false)
		log.Criticalf("Recovered from panic: %v", err)
		log.Criticalf("Stack Trace ==> %s", string(buf[:n]))
		_ = DumpPanicInfo(fmt.Sprintf("%v", err) + "\n" + string(buf[:n]))
	}
}

func DumpPanicInfo(info string) error {
	currentTime := time.Now()
	fileSuffix := currentTime.Format("20060102150405") + "_" + strconv.FormatInt(currentTime.Unix(), 10)
	fileName := filepath.Join(PanicDumpDir, panicFilename+"_"+fileSuffix)
	log.Infof("Dumping panic info to %v...", fileName)
	err := os.WriteFile(fileName, []byte(info), 0644)
	if err != nil {
		log.Errorf("Unable to write panic file %v", fileName)
		return err
	}
	return nil
}

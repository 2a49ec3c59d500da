// Command libaurelay is built with -buildmode=c-shared to embed the streaming
// engine in a host application.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"fmt"
	"os"

	"github.com/devindeed/aurelay/golib"
)

//export AurelayInitLog
func AurelayInitLog(logFile, debugLevel *C.char) C.int {
	err := golib.InitLog(C.GoString(logFile), C.GoString(debugLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "aurelay: unable to init log: %v\n", err)
		return -1
	}
	return 0
}

//export AurelayStartStream
func AurelayStartStream(host *C.char) C.int {
	if host == nil {
		return C.int(golib.InvalidHost())
	}
	return C.int(golib.StartStream(C.GoString(host)))
}

//export AurelayStopStream
func AurelayStopStream() {
	golib.StopStream()
}

func main() {}

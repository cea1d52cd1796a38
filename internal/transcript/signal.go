package transcript

import "syscall"

// terminateSignal is the conventional terminate signal sent to the decoder
// process on stop (§4.9 step 8).
var terminateSignal = syscall.SIGTERM

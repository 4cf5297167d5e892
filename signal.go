package main

import (
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals defines the signals that request a clean shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// interruptChannel is used to receive SIGINT (Ctrl+C) and SIGTERM signals.
var interruptChannel chan os.Signal

// addHandlerChannel is used to add an interrupt handler to the list of handlers
// to be invoked on SIGINT (Ctrl+C) signals.
var addHandlerChannel = make(chan func())

// interruptHandlersDone is closed after all interrupt handlers run the first
// time an interrupt is signaled.
var interruptHandlersDone = make(chan struct{})

// simulateInterruptChannel is used to trigger a shutdown from inside the
// process, for example after a listener failed.
var simulateInterruptChannel = make(chan struct{}, 1)

// mainInterruptHandler listens for SIGINT (Ctrl+C) signals on the
// interruptChannel and invokes the registered interruptCallbacks accordingly.
// It also listens for callback registration.  It must be run as a goroutine.
func mainInterruptHandler() {
	// interruptCallbacks is a list of callbacks to invoke when a
	// SIGINT (Ctrl+C) is received.
	var interruptCallbacks []func()

	// isShutdown is a flag which is used to indicate whether or not
	// the shutdown signal has already been received and hence any future
	// attempts to add a new interrupt handler should invoke them
	// immediately.
	var isShutdown bool

	for {
		select {
		case sig := <-interruptChannel:
			// Ignore more than one shutdown signal.
			if isShutdown {
				ledgerLog.Infof("Received signal (%s).  Already shutting down...", sig)
				continue
			}

			isShutdown = true
			ledgerLog.Infof("Received signal (%s).  Shutting down...", sig)

			// Run handlers in LIFO order.
			for i := range interruptCallbacks {
				idx := len(interruptCallbacks) - 1 - i
				callback := interruptCallbacks[idx]
				callback()
			}

			// Signal the main goroutine to shutdown.
			go func() {
				close(interruptHandlersDone)
			}()

		case <-simulateInterruptChannel:
			go func() {
				interruptChannel <- os.Interrupt
			}()

		case handler := <-addHandlerChannel:
			// The shutdown signal has already been received, so
			// just invoke and new handlers immediately.
			if isShutdown {
				handler()
			}

			interruptCallbacks = append(interruptCallbacks, handler)
		}
	}
}

// addInterruptHandler adds a handler to call when a SIGINT (Ctrl+C) or SIGTERM
// is received.
func addInterruptHandler(handler func()) {
	// Create the channel and start the main interrupt handler which invokes
	// all other callbacks and exits if not already done.
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)
		go mainInterruptHandler()
	}

	addHandlerChannel <- handler
}

// requestShutdown triggers the interrupt handlers as if a signal arrived.
func requestShutdown() {
	select {
	case simulateInterruptChannel <- struct{}{}:
	default:
	}
}

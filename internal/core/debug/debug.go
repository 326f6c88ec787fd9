package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the services associated with debug mode.
func StartUtilities(logger *logrus.Logger, pprofPort int) {
	startPprofServer(logger, pprofPort)
}

// This function starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// DumpRound writes the full contents of a value describing one polling round
// (typically the ready events) at trace level. It is a no-op unless trace
// logging is enabled, so it's cheap to call on every round.
func DumpRound(logger *logrus.Logger, backend string, v interface{}) {
	if !logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	logger.Tracef("[%s] round state:\n%s", backend, spew.Sdump(v))
}

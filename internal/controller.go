package internal

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/muxserver/internal/core"
	"github.com/dcrodman/muxserver/internal/core/debug"
	"github.com/dcrodman/muxserver/internal/handler"
	"github.com/dcrodman/muxserver/internal/server"
)

// Controller is the main entrypoint for muxserver. It's responsible for
// initializing the shared resources (logging and debug utilities), building the
// configured handler, and running the server until the context is done.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	server *server.Server
}

// Start blocks until ctx is cancelled or the server fails. Cancellation is
// reported as ctx.Err().
func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be shared by the server and its handler.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	defer core.CloseLogger(c.logger)

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	h, err := handler.New(c.Config, c.logger)
	if err != nil {
		return err
	}

	c.server, err = server.New(c.Config, h, c.logger)
	if err != nil {
		return fmt.Errorf("error starting %s server: %w", c.Config.Handler, err)
	}
	defer c.Shutdown()

	c.logger.Infof("serving %s handler on port %d", c.Config.Handler, c.server.Port())
	return c.server.Serve(ctx)
}

// Shutdown closes every connection along with the listening socket.
func (c *Controller) Shutdown() {
	if c.server == nil {
		return
	}
	if err := c.server.Close(); err != nil {
		c.logger.Warnf("error shutting down server: %v", err)
	}
}

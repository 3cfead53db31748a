// enginemock runs the in-process fake structure-design engine on a TCP
// port, for driving designctl without the real engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/designctl/internal/enginetest"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "enginemock: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("enginemock", pflag.ContinueOnError)
	listen := fs.String("listen", "127.0.0.1:43234", "TCP listen address")
	steps := fs.Int("steps", 10, "trajectory snapshots produced per script run")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := observability.InitLogger("enginemock")
	eng, err := enginetest.Listen(*listen, enginetest.WithSteps(*steps))
	if err != nil {
		return err
	}
	defer eng.Close()
	logger.Info().Str("addr", eng.Addr()).Int("steps", *steps).Msg("enginemock listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Int("requests", len(eng.Requests())).Msg("enginemock stopped")
	return nil
}

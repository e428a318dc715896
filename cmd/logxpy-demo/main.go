// Command logxpy-demo exercises the facade end-to-end: it boots a Logger
// from an optional -config file (without one, the default destination is
// the block-buffered file logxpy.log), emits a mix of plain records and nested
// actions, then flushes and shuts down cleanly. Grounded on the teacher's
// cmd/main.go bootstrap shape (load config, start, wait, shutdown), trimmed
// down to a single-run demonstration since logxpy is a library, not a
// long-running agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/logxpy/logxpy-go"
)

func main() {
	configFile := flag.String("config", "", "path to a logxpy YAML config file (optional)")
	flag.Parse()

	log, err := logxpy.Init(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logxpy: init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Shutdown(5 * time.Second)

	log.Info("demo starting", logxpy.Str("component", "logxpy-demo"))

	ctx := context.Background()
	action, actx := log.StartAction(ctx, "process_batch", logxpy.Int("batch_size", 3))
	bound := log.WithContext(actx)

	for i := 0; i < 3; i++ {
		bound.Debug("processing item", logxpy.Int("index", int64(i)))
	}
	bound.Success("batch processed")
	action.Succeed(logxpy.Int("items", 3))

	log.Warning("disk usage high", logxpy.Float("percent", 92.5))

	if ok := log.Flush(2 * time.Second); !ok {
		fmt.Fprintln(os.Stderr, "logxpy: flush timed out")
	}

	snap := log.Metrics()
	fmt.Printf("enqueued=%d written=%d dropped=%d errors=%d pending=%d restarts=%d\n",
		snap.Enqueued, snap.Written, snap.Dropped, snap.Errors, snap.Pending, snap.Restarts)
}

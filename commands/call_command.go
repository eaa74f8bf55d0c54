package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/cli"

	"github.com/nikileshsa/capnweb-go/capnweb"
	"github.com/nikileshsa/capnweb-go/capnweb/channel"
	"github.com/nikileshsa/capnweb-go/logging"
)

// CallCommand dials a running capnweb TCP server and issues a single call
// against its main capability, printing the JSON-encoded result. It exists
// for ad hoc testing against a `serve -port` instance, the role the
// original's completion command played for the language server.
type CallCommand struct {
	Ui cli.Ui

	addr    string
	timeout time.Duration
}

func (c *CallCommand) flags() *flag.FlagSet {
	fs := defaultFlagSet("call")

	fs.StringVar(&c.addr, "addr", "localhost:9090", "address of a running `serve -port` instance")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "time to wait for the call to resolve")

	fs.Usage = func() { c.Ui.Error(c.Help()) }

	return fs
}

// Run expects args of the form: <method> [json-arg ...].
func (c *CallCommand) Run(args []string) int {
	f := c.flags()
	if err := f.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing command-line flags: %s", err))
		return 1
	}
	rest := f.Args()
	if len(rest) < 1 {
		c.Ui.Error("Usage: capnweb-go call [options] <method> [json-arg ...]")
		return 1
	}
	method := rest[0]

	callArgs := make([]any, 0, len(rest)-1)
	for _, raw := range rest[1:] {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			c.Ui.Error(fmt.Sprintf("argument %q is not valid JSON: %s", raw, err))
			return 1
		}
		callArgs = append(callArgs, v)
	}

	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("failed to connect to %s: %s", c.addr, err))
		return 1
	}
	defer conn.Close()

	logger := logging.NewLogger(os.Stderr)
	ch := channel.NewLine(conn, conn)
	sess := capnweb.NewSession(ch, capnweb.TargetFunc(noMainCapability), capnweb.WithLogger(logger))
	go sess.Serve(context.Background())
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := sess.Call(ctx, method, callArgs...)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("call failed: %s", err))
		return 1
	}

	out, err := json.Marshal(result)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("failed to encode result: %s", err))
		return 1
	}
	c.Ui.Output(string(out))
	return 0
}

// noMainCapability is the main capability this CLI exposes to the server
// it dials; a call command never receives inbound pushes, so it need not
// offer anything real.
func noMainCapability(ctx context.Context, method string, args []any) (any, error) {
	return nil, capnweb.Errorf(capnweb.CodeNotFound, "the call command exposes no methods")
}

func (c *CallCommand) Help() string {
	helpText := `
Usage: capnweb-go call [options] <method> [json-arg ...]

` + c.Synopsis() + "\n\n" + helpForFlags(c.flags())
	return strings.TrimSpace(helpText)
}

func (c *CallCommand) Synopsis() string {
	return "Issues one call against a running capnweb server's main capability"
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/jcelliott/onramp"
)

var ConsoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Send WAMP messages interactively",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		s, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, s.Close()) }()

		return newConsole(s, cmd.OutOrStdout()).run(cmd.Context(), cmd.InOrStdin())
	},
}

// console reads one message per line: the message type number followed by
// its parameters separated by spaces.
type console struct {
	s        *onramp.Session
	listener *onramp.Listener

	mu  sync.Mutex
	out io.Writer
}

func newConsole(s *onramp.Session, out io.Writer) *console {
	c := &console{s: s, out: out}
	c.listener = onramp.NewListener(func(topic string, event interface{}) {
		c.printf("EVENT %s %s\n", topic, formatValue(event))
	})
	return c
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) run(ctx context.Context, in io.Reader) error {
	c.printf("%s",
		"----------------------------------------------------------------------\n"+
			"Connected with session id: "+c.s.SessionID()+"\n"+
			"Enter WAMP message, parameters separated by spaces\n"+
			"PREFIX=1, CALL=2, SUBSCRIBE=5, UNSUBSCRIBE=6, PUBLISH=7\n"+
			"----------------------------------------------------------------------\n")

	read := bufio.NewScanner(in)
	for read.Scan() {
		line := strings.TrimSpace(read.Text())
		if line == "" {
			continue
		}
		if err := c.exec(ctx, line); err != nil {
			c.printf("Error: %s\n", err)
		}
		select {
		case <-c.s.Done():
			return c.s.Err()
		default:
		}
	}
	return read.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	params := strings.Fields(line)
	msgType, err := strconv.Atoi(params[0])
	if err != nil {
		return fmt.Errorf("error parsing message type: %s", params[0])
	}
	args := params[1:]

	switch onramp.MessageType(msgType) {
	case onramp.PREFIX:
		if len(args) != 2 {
			return fmt.Errorf("usage: 1 <prefix> <uri>")
		}
		return c.s.Prefix(args[0], args[1])
	case onramp.CALL:
		if len(args) < 1 {
			return fmt.Errorf("usage: 2 <procedure> [args...]")
		}
		callArgs := make([]interface{}, 0, len(args)-1)
		for _, a := range args[1:] {
			callArgs = append(callArgs, parseValue(a))
		}
		f, err := c.s.Call(args[0], callArgs...)
		if err != nil {
			return err
		}
		go func() {
			res, err := f.Wait(ctx)
			if err != nil {
				c.printf("CALLERROR %s %s\n", args[0], err)
				return
			}
			c.printf("CALLRESULT %s %s\n", args[0], formatValue(res))
		}()
		return nil
	case onramp.SUBSCRIBE:
		if len(args) != 1 {
			return fmt.Errorf("usage: 5 <topic>")
		}
		return c.s.Subscribe(args[0], c.listener)
	case onramp.UNSUBSCRIBE:
		if len(args) != 1 {
			return fmt.Errorf("usage: 6 <topic>")
		}
		return c.s.Unsubscribe(args[0], nil)
	case onramp.PUBLISH:
		if len(args) < 2 {
			return fmt.Errorf("usage: 7 <topic> <event> [exclude...]")
		}
		event := parseValue(args[1])
		if len(args) > 2 {
			return c.s.PublishTo(args[0], event, args[2:], nil)
		}
		return c.s.Publish(args[0], event, false)
	default:
		return fmt.Errorf("invalid message type: %d", msgType)
	}
}

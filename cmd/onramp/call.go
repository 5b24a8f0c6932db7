package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/jcelliott/onramp"
)

var CallCmd = &cobra.Command{
	Use:   "call <procedure> [args...]",
	Short: "Call a remote procedure and print the result",
	Long: `Call a remote procedure and print the result

Each argument is sent as JSON when it parses as JSON, otherwise as a string.

Usage
	onramp call http://example.com/calc#add 23 7
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		s, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, s.Close()) }()

		res, err := call(cmd.Context(), s, args[0], args[1:])
		if err != nil {
			var rerr *onramp.RemoteCallError
			if errors.As(err, &rerr) && rerr.Details != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "details:", formatValue(rerr.Details))
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatValue(res))
		return nil
	},
}

func call(ctx context.Context, s *onramp.Session, procURI string, rawArgs []string) (interface{}, error) {
	callArgs := make([]interface{}, len(rawArgs))
	for i, a := range rawArgs {
		callArgs[i] = parseValue(a)
	}
	f, err := s.Call(procURI, callArgs...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f.Wait(ctx)
}

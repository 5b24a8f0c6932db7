package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
)

var (
	// path=value pairs applied to the event
	sets []string

	excludeMe   bool
	acknowledge bool
)

func init() {
	flags := PublishCmd.Flags()

	flags.StringArrayVar(&sets, "set", nil, "Set path=value in the event (repeatable)")
	flags.BoolVar(&excludeMe, "exclude-me", false, "Do not deliver the event to this session")
	flags.BoolVar(&acknowledge, "ack", false, "Ask the server to acknowledge the publication")
}

var PublishCmd = &cobra.Command{
	Use:   "publish <topic> [event]",
	Short: "Publish an event to a topic",
	Long: `Publish an event to a topic

The event is JSON when it parses as JSON, otherwise a string. --set
builds or patches a JSON object event.

Usage
	onramp publish http://example.com/chat '{"text":"hi"}'
	onramp publish http://example.com/chat --set user.name=bob --set count=3
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var base string
		if len(args) > 1 {
			base = args[1]
		}
		event, err := buildEvent(base, sets)
		if err != nil {
			return err
		}

		s, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, s.Close()) }()

		if !acknowledge {
			return s.Publish(args[0], event, excludeMe)
		}
		f, err := s.PublishAcknowledged(args[0], event, excludeMe)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		id, err := f.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "published:", formatValue(id))
		return nil
	},
}

// buildEvent applies each path=value pair to base. Without pairs, base is
// parsed as JSON, falling back to a plain string.
func buildEvent(base string, pairs []string) (interface{}, error) {
	if len(pairs) == 0 {
		if base == "" {
			return nil, nil
		}
		return parseValue(base), nil
	}

	doc := base
	if doc == "" {
		doc = "{}"
	}
	if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return nil, errors.Errorf("--set needs a JSON object event, got %q", base)
	}
	for _, p := range pairs {
		path, value, ok := strings.Cut(p, "=")
		if !ok || path == "" {
			return nil, errors.Errorf("invalid --set %q, want path=value", p)
		}
		var err error
		if gjson.Valid(value) {
			doc, err = sjson.SetRaw(doc, path, value)
		} else {
			doc, err = sjson.Set(doc, path, value)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "setting %s", path)
		}
	}
	return gjson.Parse(doc).Value(), nil
}

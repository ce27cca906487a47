package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/automap/internal/codec"
	"github.com/cory-johannsen/automap/internal/game/session"
	"github.com/cory-johannsen/automap/internal/game/world"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <encoded|->",
		Short: "Print a stored map as a JSON snapshot",
		Long: `decode reads an encoded map, from the argument or stdin when it is "-", and
prints it as JSON. Unreadable input prints an empty map unless --strict is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			strict, _ := cmd.Flags().GetBool("strict")

			data := args[0]
			if data == "-" {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				data = strings.TrimSpace(string(raw))
			}

			opts := session.MapOptions(cfg.Map, nil)
			var m *world.Map
			if strict {
				if m, err = codec.Unmarshal(data, opts...); err != nil {
					return err
				}
			} else {
				m = codec.Decode(data, logger, opts...)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m.Snapshot())
		},
	}
	cmd.Flags().Bool("strict", false, "fail on unreadable input")
	return cmd
}

func newStoryIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storyid <story-file>",
		Short: "Print the story name derived from a story file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading story file: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), session.StoryID(data))
			return err
		},
	}
}

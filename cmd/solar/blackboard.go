package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"Solar/internal/config"
)

func newBlackboardCmd() *cobra.Command {
	cfg := config.BlackboardConfig{}

	cmd := &cobra.Command{
		Use:   "blackboard",
		Short: "Read or write trigger keys on the shared Redis blackboard",
	}
	cmd.PersistentFlags().StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address")
	cmd.PersistentFlags().StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	cmd.PersistentFlags().IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database")
	cmd.PersistentFlags().StringVar(&cfg.Key, "key", "", "Redis hash holding the blackboard")
	cmd.PersistentFlags().StringVar(&cfg.Prefix, "prefix", "", "Key prefix")

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one value, or every value when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newRedisBoard(cfg)
			defer b.Close()

			var value any
			if len(args) == 1 {
				v, ok, err := b.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not set", args[0])
				}
				value = v
			} else {
				snap, err := b.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				value = snap
			}

			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key; the value is parsed as JSON and falls back to a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newRedisBoard(cfg)
			defer b.Close()
			return b.Set(cmd.Context(), args[0], parseValue(args[1]))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newRedisBoard(cfg)
			defer b.Close()
			return b.Delete(cmd.Context(), args[0])
		},
	})

	return cmd
}

// parseValue turns "true", "3" or `{"a":1}` into typed values.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

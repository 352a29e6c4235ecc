package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"Solar/internal/client"
	"Solar/internal/models"
)

func newStatusCmd() *cobra.Command {
	var (
		addr   string
		apiKey string
		output string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runner status from a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(addr, apiKey)
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st, output)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Supervisor API address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key when auth is enabled")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func printStatus(w io.Writer, st *models.StatusResponse, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(st)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	ids := make([]string, 0, len(st.Runners))
	for id := range st.Runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUNNER\tTYPE\tSTATE\tHEALTHY\tERRORS\tUPTIME")
	for _, id := range ids {
		r := st.Runners[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n", id, r.Type, r.State, r.Healthy, r.ErrorCount, r.Uptime.Round(time.Second))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d/%d running, %d healthy, %d in error\n",
		st.System.RunningRunners, st.System.TotalRunners, st.System.HealthyRunners, st.System.ErrorRunners)
	return nil
}

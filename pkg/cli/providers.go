package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	"github.com/spf13/cobra"
)

type providerRow struct {
	provider.Descriptor
	Performance *struct {
		Latency   time.Duration `json:"latency_ewma"`
		Successes uint64        `json:"successes"`
		Failures  uint64        `json:"failures"`
	} `json:"performance,omitempty"`
}

func newProvidersCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the providers of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := fetchProviders(gatewayURL)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tPRIORITY\tACTIVE\tHEALTH\tFAILURES\tLATENCY")
			for _, r := range rows {
				latency := "-"
				if r.Performance != nil && r.Performance.Successes+r.Performance.Failures > 0 {
					latency = r.Performance.Latency.Round(time.Microsecond).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%d\t%s\n",
					r.ID, r.Category, r.Priority, r.Active, r.Health, r.ConsecutiveFailures, latency)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway", gatewayFromEnv(), "Gateway base URL")
	return cmd
}

func gatewayFromEnv() string {
	if url := os.Getenv("HYPERDRIVE_GATEWAY_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func fetchProviders(base string) ([]providerRow, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(base, "/") + "/v1/providers")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list providers: %s", strings.TrimSpace(string(body)))
	}

	var out struct {
		Providers []providerRow `json:"providers"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

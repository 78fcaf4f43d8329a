package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schema-migration-service/internal/handler"
)

// tenantsCmd はテナントごとの計画を取得するコマンド。
func tenantsCmd() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List the migration plan of every active tenant database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set MIGRATECTL_API_URL)")
			}

			endpoint := strings.TrimRight(apiURL, "/") + "/v1/tenants/plans"
			if region != "" {
				endpoint += "?region=" + url.QueryEscape(region)
			}
			resp, err := httpClient.Get(endpoint)
			if err != nil {
				return fmt.Errorf("API request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return handleErrorResponse(resp.StatusCode, body)
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				fmt.Fprintln(out, string(body))
				return nil
			}

			var result handler.TenantPlanListResponse
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TENANT\tREGION\tDATABASE\tSCHEMAS")
			for _, t := range result.Tenants {
				names := make([]string, len(t.Plan.Order))
				for i, m := range t.Plan.Order {
					names[i] = m.SchemaName
				}
				schemas := strings.Join(names, " -> ")
				if schemas == "" {
					schemas = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Slug, t.Region, t.Database, schemas)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Limit to tenants in a region")
	return cmd
}

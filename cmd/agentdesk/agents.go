package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bazelment/agentdesk/config"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCOMMAND\tAUTH\tMCP SERVERS")
		for _, a := range cfg.Agents {
			name := a.Name
			if name == cfg.DefaultAgent {
				name += " (default)"
			}
			auth := a.AuthMethod
			switch {
			case a.SkipAuth:
				auth = "skip"
			case auth == "":
				auth = "-"
			}
			servers := make([]string, 0, len(cfg.MCPServers)+len(a.MCPServers))
			for _, s := range cfg.SessionMCPServers(&a) {
				servers = append(servers, s.Server.ServerName())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name,
				strings.TrimSpace(a.Command+" "+strings.Join(a.Args, " ")), auth, strings.Join(servers, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

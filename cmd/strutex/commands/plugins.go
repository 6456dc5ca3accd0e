package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aquilesorei/strutex/pkg/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect the available plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	Long: `List registered plugins grouped by kind, highest priority first.

Examples:
  strutex plugins list
  strutex plugins list --kind validator
  strutex plugins list --capability persistent --json`,
	Args: cobra.NoArgs,
	RunE: runPluginsList,
}

var pluginsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details of one plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsInfo,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsListCmd, pluginsInfoCmd)

	pluginsListCmd.Flags().StringP("kind", "k", "", "only this kind: backend, validator, security, extractor, cache")
	pluginsListCmd.Flags().String("capability", "", "only plugins declaring this capability")
	pluginsListCmd.Flags().Bool("json", false, "output as JSON")

	pluginsInfoCmd.Flags().StringP("kind", "k", "", "plugin kind (required)")
	pluginsInfoCmd.Flags().Bool("json", false, "output as JSON")
	_ = pluginsInfoCmd.MarkFlagRequired("kind")
}

func runPluginsList(cmd *cobra.Command, _ []string) error {
	r, err := newRegistry()
	if err != nil {
		return err
	}
	kind, _ := cmd.Flags().GetString("kind")
	capability, _ := cmd.Flags().GetString("capability")
	asJSON, _ := cmd.Flags().GetBool("json")

	var opts []plugin.ListOption
	if capability != "" {
		opts = append(opts, plugin.WithCapability(capability))
	}
	descs := r.List(plugin.Kind(strings.ToLower(kind)), opts...)

	out := cmd.OutOrStdout()
	if asJSON {
		grouped := make(map[plugin.Kind][]plugin.Descriptor)
		for _, d := range descs {
			grouped[d.Kind] = append(grouped[d.Kind], d)
		}
		return writeJSON(out, grouped)
	}
	if len(descs) == 0 {
		_, err := fmt.Fprintln(out, "No plugins found.")
		return err
	}
	return writePluginTable(out, r.Kinds(), descs)
}

func writePluginTable(w io.Writer, kinds []plugin.Kind, descs []plugin.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, kind := range kinds {
		first := true
		for _, d := range descs {
			if d.Kind != kind {
				continue
			}
			if first {
				fmt.Fprintf(tw, "\n%sS\n", strings.ToUpper(string(kind)))
				fmt.Fprintln(tw, "NAME\tVERSION\tPRIORITY\tCAPABILITIES")
				first = false
			}
			fmt.Fprintf(tw, "%s\tv%s\t%d\t%s\n", d.Name, d.Version, d.Priority, strings.Join(d.Capabilities, ", "))
		}
	}
	return tw.Flush()
}

func runPluginsInfo(cmd *cobra.Command, args []string) error {
	r, err := newRegistry()
	if err != nil {
		return err
	}
	kind, _ := cmd.Flags().GetString("kind")
	d, err := r.Get(plugin.Kind(strings.ToLower(kind)), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, d)
	}
	fmt.Fprintf(out, "Plugin: %s\n", d.Name)
	fmt.Fprintf(out, "  Kind:         %s\n", d.Kind)
	fmt.Fprintf(out, "  Version:      %s\n", d.Version)
	fmt.Fprintf(out, "  Priority:     %d\n", d.Priority)
	if d.Description != "" {
		fmt.Fprintf(out, "  Description:  %s\n", d.Description)
	}
	if len(d.Capabilities) > 0 {
		fmt.Fprintf(out, "  Capabilities: %s\n", strings.Join(d.Capabilities, ", "))
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(out, "  Tags:         %s\n", strings.Join(d.Tags, ", "))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

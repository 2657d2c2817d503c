package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cascadegis/geoconv/format"
)

// FormatsCmd lists the supported containers and their capability tables
var FormatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported formats and their capabilities",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FORMAT\tEXTENSION\tNAME LIMIT\tMIXED GEOMETRY\tTIME VALUES")
		for _, f := range format.Known() {
			codec, err := format.Lookup(f)
			if err != nil {
				continue
			}
			caps := codec.Capabilities()
			nameLimit := "unlimited"
			if caps.FieldNameLimit > 0 {
				nameLimit = fmt.Sprintf("%d chars", caps.FieldNameLimit)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				f, format.ExtensionFor(f), nameLimit,
				yesNo(caps.MixedGeometry), yesNo(caps.TimeValues))
		}
		w.Flush()
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

/*
Copyright © 2018-2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/colors"
	"github.com/blacktop/ilcov/internal/instrument"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolP("il", "d", false, "Disassemble method bodies")
	infoCmd.Flags().BoolP("points", "p", false, "List sequence points")
	infoCmd.Flags().StringP("type", "t", "", "Only show this type")

	viper.BindPFlag("info.il", infoCmd.Flags().Lookup("il"))
	viper.BindPFlag("info.points", infoCmd.Flags().Lookup("points"))
	viper.BindPFlag("info.type", infoCmd.Flags().Lookup("type"))

	infoCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"dll", "exe"}, cobra.ShellCompDirectiveFilterFileExt
	}
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <MODULE>",
	Short: "Display module info",
	Example: heredoc.Doc(`
		# Show identity, references and per method coverage eligibility
		❯ ilcov info App.dll
		# Dump the IL of one type with its sequence points
		❯ ilcov info App.dll --type App.Calc --il --points`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		fs := afero.NewOsFs()
		fPath := filepath.Clean(args[0])
		fi, err := fs.Stat(fPath)
		if os.IsNotExist(err) {
			return fmt.Errorf("file %s does not exist", fPath)
		} else if err != nil {
			return err
		}

		m, err := il.Open(fs, fPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", fPath, err)
		}

		filter, err := instrument.NewFilter(nil, nil)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "Module:\t%s (%s)\n", m.Name, humanize.Bytes(uint64(fi.Size())))
		fmt.Fprintf(w, "Assembly:\t%s\n", m.Assembly.Ref().FullName())
		fmt.Fprintf(w, "MVID:\t%s\n", m.MVID)
		fmt.Fprintf(w, "Arch:\t%s\n", m.Architecture)
		fmt.Fprintf(w, "Target:\t%s\n", instrument.ResolveTarget(m, log.Log))
		fmt.Fprintf(w, "Signed:\t%t\n", m.Signed())
		fmt.Fprintf(w, "Covered:\t%t\n", m.HasAttribute(support.CoveredAssemblyAttribute))
		w.Flush()

		fmt.Println(colors.Bold().Sprint("\nReferences:"))
		for _, ref := range m.AssemblyRefs {
			fmt.Printf("  %s\n", ref.FullName())
		}

		fmt.Println(colors.Bold().Sprint("\nTypes:"))
		for ti, t := range m.Types {
			if name := viper.GetString("info.type"); name != "" && t.FullName() != name {
				continue
			}
			fmt.Printf("  %s %s\n", colors.Faint().Sprintf("[%d]", ti), colors.BoldCyan().Sprint(t.FullName()))
			for mi, md := range t.Methods {
				status := colors.Green().Sprintf("%d points", md.Debug.Visible())
				if reason, ok := filter.Eligible(t, md); !ok {
					status = colors.FaintRed().Sprint(reason)
				}
				fmt.Printf("    %s %s (%s)\n", colors.Faint().Sprintf("[%d]", mi), colors.Bold().Sprint(md.Name), status)
				if md.HasBody() {
					printBody(md, viper.GetBool("info.il"), viper.GetBool("info.points"))
				}
			}
		}

		return nil
	},
}

func printBody(md *il.MethodDef, disass, points bool) {
	const indent = "        "
	lines := md.Body.Disassemble()
	if disass {
		for _, l := range lines {
			fmt.Println(indent + l.String())
		}
		for _, r := range md.Body.Regions {
			fmt.Println(indent + colors.Yellow().Sprint(md.Body.DescribeRegion(r)))
		}
	}
	if points && md.Debug != nil {
		offsets := make(map[il.InstrID]int, len(lines))
		for _, l := range lines {
			offsets[l.ID] = l.Offset
		}
		for _, sp := range md.Debug.SequencePoints {
			if sp.Hidden() {
				fmt.Printf("%sIL_%04x  %s\n", indent, offsets[sp.Instr], colors.Faint().Sprint("hidden"))
				continue
			}
			fmt.Printf("%sIL_%04x  %s:%d:%d-%d:%d\n", indent, offsets[sp.Instr],
				filepath.Base(sp.Document), sp.StartLine, sp.StartColumn, sp.EndLine, sp.EndColumn)
		}
	}
	if disass || points {
		fmt.Println(indent + strings.Repeat("-", 40))
	}
}

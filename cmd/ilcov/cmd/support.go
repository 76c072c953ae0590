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
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/colors"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultSupportVersion = "1.0.0.0"

func init() {
	rootCmd.AddCommand(supportCmd)
	supportCmd.AddCommand(supportGenCmd)
	supportCmd.AddCommand(supportLsCmd)

	supportCmd.PersistentFlags().String("home", "", "Support library home directory")
	supportGenCmd.Flags().String("version", defaultSupportVersion, "Assembly version of the generated libraries")
	supportGenCmd.Flags().StringSliceP("target", "t", []string{}, "Only generate these variants")

	viper.BindPFlag("support.home", supportCmd.PersistentFlags().Lookup("home"))
	viper.BindPFlag("support.version", supportGenCmd.Flags().Lookup("version"))
	viper.BindPFlag("support.target", supportGenCmd.Flags().Lookup("target"))
}

// supportCmd represents the support command
var supportCmd = &cobra.Command{
	Use:   "support",
	Short: "Manage the coverage support library",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func supportHome() (string, error) {
	home := viper.GetString("support.home")
	if home == "" {
		home = viper.GetString("instrument.home")
	}
	if home == "" {
		return "", fmt.Errorf("missing support library home (pass --home)")
	}
	return filepath.Clean(home), nil
}

// supportGenCmd represents the support gen command
var supportGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate the support library variants",
	Example: heredoc.Doc(`
		# Write every variant below ~/.ilcov
		❯ ilcov support gen --home ~/.ilcov
		# Only regenerate the net6.0 variant
		❯ ilcov support gen --home ~/.ilcov -t net6.0 --version 1.1.0.0`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		home, err := supportHome()
		if err != nil {
			return err
		}

		var targets []support.Target
		for _, name := range viper.GetStringSlice("support.target") {
			t, err := support.ParseTarget(name)
			if err != nil {
				return err
			}
			targets = append(targets, t)
		}

		if err := support.Install(afero.NewOsFs(), home, viper.GetString("support.version"), targets...); err != nil {
			return err
		}
		log.Infof("Support libraries written to %s", colors.Bold().Sprint(home))
		return nil
	},
}

// supportLsCmd represents the support ls command
var supportLsCmd = &cobra.Command{
	Use:           "ls",
	Aliases:       []string{"list"},
	Short:         "List the installed support library variants",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := supportHome()
		if err != nil {
			return err
		}
		found, err := support.Installed(afero.NewOsFs(), home)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, t := range support.Targets {
			if v, ok := found[t]; ok {
				fmt.Fprintf(w, "%s\t%s\t%s\n", colors.BoldCyan().Sprint(t), v, support.Path(home, t))
			} else {
				fmt.Fprintf(w, "%s\t%s\n", colors.Faint().Sprint(t), colors.FaintRed().Sprint("missing"))
			}
		}
		return w.Flush()
	},
}

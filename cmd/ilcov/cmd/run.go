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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/colors"
	"github.com/blacktop/ilcov/pkg/emu"
	"github.com/blacktop/ilcov/pkg/emu/hooks/system"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("state", "s", "", "Call described by a YAML state file")
	runCmd.Flags().BoolP("coverage", "c", false, "Collect and print hit counters")
	runCmd.Flags().Bool("trace", false, "Trace every executed instruction")
	runCmd.Flags().StringSliceP("load", "l", []string{}, "Additional modules to load")
	runCmd.Flags().Int("max-steps", 0, "Maximum number of executed instructions")

	viper.BindPFlag("run.state", runCmd.Flags().Lookup("state"))
	viper.BindPFlag("run.coverage", runCmd.Flags().Lookup("coverage"))
	viper.BindPFlag("run.trace", runCmd.Flags().Lookup("trace"))
	viper.BindPFlag("run.load", runCmd.Flags().Lookup("load"))
	viper.BindPFlag("run.max-steps", runCmd.Flags().Lookup("max-steps"))
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <MODULE> [Type::Method] [ARGS...]",
	Short: "Emulate a static method of a module",
	Example: heredoc.Doc(`
		# Call a method and print its return value
		❯ ilcov run App.dll App.Calc::Classify 4
		# Call an instrumented method and print the hit counters
		❯ ilcov run App.dll App.Calc::Sum 5 --coverage
		# Replay a call described in a state file
		❯ ilcov run App.dll --state divide.yaml --trace`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		fs := afero.NewOsFs()

		e := emu.NewEmulation(&emu.Config{
			Verbose:  viper.GetBool("run.trace"),
			MaxSteps: viper.GetInt("run.max-steps"),
			Output:   os.Stdout,
		})
		system.Register(e)
		reporter := emu.NewReporter(e)

		m, err := il.Open(fs, args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		if err := e.Load(m); err != nil {
			return err
		}
		for _, path := range viper.GetStringSlice("run.load") {
			dep, err := il.Open(fs, path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			if err := e.Load(dep); err != nil {
				return err
			}
		}

		if viper.GetBool("run.coverage") {
			reporter.Start()
		}

		var ret emu.Value
		if path := viper.GetString("run.state"); len(path) > 0 {
			state, err := emu.ParseState(fs, path)
			if err != nil {
				return err
			}
			if Verbose {
				state.DumpYaml(os.Stdout)
			}
			ret, err = state.Run(e)
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", state.Method, err)
			}
		} else {
			if len(args) < 2 {
				return fmt.Errorf("missing method to call (pass Type::Method or --state)")
			}
			vals := make([]emu.Value, 0, len(args)-2)
			for _, a := range args[2:] {
				v, err := cast.ToInt32E(a)
				if err != nil {
					return fmt.Errorf("invalid argument %q: %w", a, err)
				}
				vals = append(vals, v)
			}
			ret, err = e.Call(args[1], vals...)
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", args[1], err)
			}
		}

		log.WithField("steps", e.Steps()).Info(colors.Bold().Sprintf("returned %v", ret))

		if reporter.Active() {
			printCoverage(reporter)
		}

		return nil
	},
}

func printCoverage(r *emu.Reporter) {
	if len(r.Scopes()) == 0 {
		log.Warn("no instrumented method ran")
		return
	}
	for _, s := range r.Scopes() {
		fmt.Println(colors.BoldCyan().Sprint(s.Module.Name))
		for ti, t := range s.Module.Types {
			for mi, md := range t.Methods {
				hits := s.Hits(ti, mi)
				if len(hits) == 0 {
					continue
				}
				fmt.Printf("  %s", colors.Bold().Sprint(md.FullName()))
				for _, h := range hits {
					fmt.Printf(" %s", colors.Hits(h).Sprint(h))
				}
				fmt.Println()
			}
		}
	}
}

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
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/colors"
	"github.com/blacktop/ilcov/internal/commands/cover"
	"github.com/blacktop/ilcov/internal/config"
	"github.com/blacktop/ilcov/internal/instrument"
	"github.com/caarlos0/ctrlc"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func init() {
	rootCmd.AddCommand(instrumentCmd)

	instrumentCmd.Flags().String("home", "", "Support library home (<home>/<target>/Ilcov.Support.dll)")
	instrumentCmd.Flags().String("snk", "", "Strong name key used to re-sign signed modules")
	instrumentCmd.Flags().StringSlice("skip-module", nil, "Module file name glob to skip")
	instrumentCmd.Flags().StringSlice("skip-method", nil, "Namespace.Type::Method glob to skip")
	instrumentCmd.Flags().StringSlice("search-dir", nil, "Directory searched first when resolving references")
	instrumentCmd.Flags().StringP("output", "o", "", "Output folder (modules are rewritten in place by default)")
	instrumentCmd.Flags().IntP("parallel", "j", 0, "Modules processed at once (default: number of CPUs)")
	instrumentCmd.MarkFlagDirname("home")
	instrumentCmd.MarkFlagDirname("output")

	viper.BindPFlag("instrument.home", instrumentCmd.Flags().Lookup("home"))
	viper.BindPFlag("instrument.snk", instrumentCmd.Flags().Lookup("snk"))
	viper.BindPFlag("instrument.skip-modules", instrumentCmd.Flags().Lookup("skip-module"))
	viper.BindPFlag("instrument.skip-methods", instrumentCmd.Flags().Lookup("skip-method"))
	viper.BindPFlag("instrument.search-dirs", instrumentCmd.Flags().Lookup("search-dir"))
	viper.BindPFlag("instrument.output", instrumentCmd.Flags().Lookup("output"))
	viper.BindPFlag("instrument.parallel", instrumentCmd.Flags().Lookup("parallel"))

	instrumentCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"dll", "exe"}, cobra.ShellCompDirectiveFilterFileExt
	}
}

// instrumentCmd represents the instrument command
var instrumentCmd = &cobra.Command{
	Use:     "instrument <MODULE|FOLDER>...",
	Aliases: []string{"i"},
	Short:   "Rewrite modules to record executed sequence points",
	Example: heredoc.Doc(`
		# Instrument every module of a test output folder in place
		❯ ilcov instrument --home ~/.ilcov/home bin/Debug/net6.0
		# Write to another folder and skip generated code
		❯ ilcov instrument --home ~/.ilcov/home -o /tmp/cov --skip-method '*::<*' App.dll
		# Re-sign strong named modules
		❯ ILCOV_INSTRUMENT_SNK=key.pem ilcov instrument --home ~/.ilcov/home App.dll`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		fs := afero.NewOsFs()
		paths, err := cover.Collect(fs, args)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no modules found in %v", args)
		}

		sess, err := instrument.NewSession(fs, conf.InstrumentConfig(), log.Log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		bconf := &cover.Config{Parallel: conf.Instrument.Parallel}

		var (
			p   *mpb.Progress
			bar *mpb.Bar
		)
		if len(paths) > 1 && !Verbose {
			p = mpb.New(mpb.WithWidth(80))
			bar = p.New(int64(len(paths)),
				mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
				mpb.PrependDecorators(
					decor.Name("     ", decor.WC{W: len("     ") + 1, C: decor.DindentRight}),
					decor.OnComplete(
						decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ ",
					),
				),
				mpb.AppendDecorators(
					decor.CountersNoUnit("%d/%d"),
					decor.Name(" ] "),
				),
			)
			bconf.Progress = bar.Increment
		}

		return ctrlc.Default.Run(ctx, func() error {
			batch, err := cover.Run(ctx, sess, bconf, paths)
			if p != nil {
				if !bar.Completed() {
					bar.Abort(false)
				}
				p.Wait()
			}
			report(batch)
			return err
		})
	},
}

func report(b *cover.Batch) {
	for i, res := range b.Results {
		switch {
		case b.Status[i] == cover.NotStarted:
			log.Warn(colors.Yellow().Sprintf("not started %s", b.Paths[i]))
			continue
		case res == nil:
			continue
		case res.Skipped:
			log.WithField("reason", res.Reason).Info(colors.Faint().Sprintf("skipped %s", res.Path))
			continue
		}
		log.WithFields(log.Fields{
			"target":  res.Target,
			"methods": res.Methods,
			"points":  humanize.Comma(int64(res.Points)),
		}).Info(colors.Green().Sprintf("instrumented %s", res.Output))
	}

	st := cover.Summarize(b)
	log.Infof("%d modules (%d skipped, %d failed, %d not started), %s methods, %s sequence points",
		len(b.Paths), st.Skipped, st.Failed, st.NotStarted, humanize.Comma(int64(st.Methods)), humanize.Comma(int64(st.Points)))
	for _, s := range st.Supports {
		log.WithField("path", s).Debug("support library")
	}
}

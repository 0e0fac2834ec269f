package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raymyers/multistride/pkg/align"
	"github.com/raymyers/multistride/pkg/compiler"
	"github.com/raymyers/multistride/pkg/config"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/kernels"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/skip"
)

var version = "0.1.0"

// Swapped out by tests. A nil execCommand runs the real compiler driver.
var (
	appFs       afero.Fs = afero.NewOsFs()
	execCommand compiler.Command
)

var verbosity string

// generate flags
var (
	configPath string
	sweepNames []string
	testAll    bool
	jobs       int
	strict     bool
)

// align flags
var (
	alignN           int
	alignStrides     []int
	alignPortions    []int
	alignUnalignment float64
	alignVectorBits  int
	alignDTypeBytes  int
	alignPageBytes   int
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "multistride: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	log := logrus.New()
	log.SetOutput(errOut)

	rootCmd := &cobra.Command{
		Use:   "multistride",
		Short: "multistride generates unrolled x86 memory benchmark kernels",
		Long: `multistride emits assembly for memory movement kernels across sweeps
of problem sizes and unroll factors, compiles each against the
benchmarking harness, and prints the commands to run them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(verbosity)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", logrus.WarnLevel.String(), "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newGenerateCmd(out, errOut, log),
		newDecodeCmd(out),
		newAlignCmd(out),
		newKernelsCmd(out),
	)
	return rootCmd
}

func newGenerateCmd(out, errOut io.Writer, log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate and compile the kernels of a machine config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doGenerate(cmd.Context(), out, errOut, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Machine config file")
	cmd.Flags().StringSliceVar(&sweepNames, "sweep", nil, "Only run the named sweeps")
	cmd.Flags().BoolVar(&testAll, "test", false, "Build every kernel under test with fixtures")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Parallel builds (0 means one per CPU)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail if any configuration is skipped")
	cmd.MarkFlagRequired("config")
	return cmd
}

func doGenerate(ctx context.Context, out, errOut io.Writer, log *logrus.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(appFs, configPath)
	if err != nil {
		return err
	}
	registry := kernels.Registry()
	plans, err := cfg.Plans(func(name string) bool { _, ok := registry[name]; return ok }, sweepNames...)
	if err != nil {
		return err
	}

	counts := make(map[skip.Reason]int)
	var strictErr error
	for _, plan := range plans {
		entry := log.WithField("sweep", plan.Sweep.Name)
		if testAll {
			for i := range plan.Jobs {
				plan.Jobs[i].Testing = true
			}
		}
		cc := compiler.New(plan.Compiler)
		cc.Cmd = execCommand
		g := &generator.Generator{
			Machine:  cfg.Machine(),
			Kernels:  registry,
			Compiler: cc,
			Fs:       appFs,
			Workers:  jobs,
			Strict:   strict || plan.Sweep.Strict,
			Log:      entry,
		}

		res, err := g.Generate(ctx, plan.Jobs)
		var se *generator.StrictError
		if errors.As(err, &se) {
			if strictErr == nil {
				strictErr = errors.Wrapf(err, "sweep %s", plan.Sweep.Name)
			}
		} else if err != nil {
			return errors.Wrapf(err, "sweep %s", plan.Sweep.Name)
		}

		for _, c := range res.Commands() {
			fmt.Fprintln(out, c)
		}
		for _, hook := range res.TestHooks() {
			if _, err := hook(); err != nil {
				return errors.Wrapf(err, "sweep %s: writing fixtures", plan.Sweep.Name)
			}
		}
		for r, n := range res.SkipCounts() {
			counts[r] += n
		}
	}

	if summary := skipSummary(counts); summary != "" {
		fmt.Fprintln(errOut, summary)
	}
	return strictErr
}

func skipSummary(counts map[skip.Reason]int) string {
	total := 0
	var parts []string
	for r, n := range counts {
		total += n
		parts = append(parts, fmt.Sprintf("%s=%d", r, n))
	}
	if total == 0 {
		return ""
	}
	sort.Strings(parts)
	return fmt.Sprintf("skipped %d configuration(s): %s", total, strings.Join(parts, " "))
}

func newDecodeCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "decode NAME...",
		Short: "Recover sweep parameters from artifact or result names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, name := range args {
				d, ok := naming.Decode(name)
				if !ok {
					fmt.Fprintf(out, "%s: no match\n", name)
					failed++
					continue
				}
				fmt.Fprintf(out, "%s: %s\n", name, d)
			}
			if failed > 0 {
				return errors.Errorf("%d name(s) did not decode", failed)
			}
			return nil
		},
	}
}

func newAlignCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Compute the aligned size for a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAlign(out)
		},
	}
	addAlignFlags(cmd.Flags())
	return cmd
}

func addAlignFlags(fs *pflag.FlagSet) {
	fs.IntVar(&alignN, "n", 0, "Requested element count")
	fs.IntSliceVarP(&alignStrides, "stride", "s", []int{1}, "Stride unrolls, one per phase")
	fs.IntSliceVarP(&alignPortions, "portion", "p", []int{1}, "Portion unrolls, one per phase")
	fs.Float64Var(&alignUnalignment, "unalignment", 1.0, "Unalignment factor applied before rounding")
	fs.IntVar(&alignVectorBits, "vector-bits", 256, "Vector width in bits")
	fs.IntVar(&alignDTypeBytes, "dtype-bytes", 4, "Element size in bytes")
	fs.IntVar(&alignPageBytes, "page-bytes", 0, "Align to pages of this many bytes instead of vectors")
}

func doAlign(out io.Writer) error {
	if alignDTypeBytes <= 0 {
		return errors.Errorf("dtype size %d is not positive", alignDTypeBytes)
	}
	granularity := align.VectorElements(alignVectorBits, alignDTypeBytes)
	if alignPageBytes > 0 {
		granularity = align.PageElements(alignPageBytes, alignDTypeBytes)
	}
	n, err := align.Align(align.Request{
		Size:              alignN,
		StrideUnrolls:     alignStrides,
		PortionUnrolls:    alignPortions,
		UnalignmentFactor: alignUnalignment,
		Granularity:       granularity,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, n)
	return nil
}

func newKernelsCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "kernels",
		Short: "List the registered kernels",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range kernels.Names() {
				fmt.Fprintln(out, name)
			}
		},
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		agentbridge drives a browser tab towards a natural-language goal,
		observing page state through a CDP debugger connection and asking an
		external policy server to choose the next action.`)

	rootExamples = templates.Examples(``)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// AgentBridgeOptions defines the options shared by every subcommand.
type AgentBridgeOptions struct {
	iooption.IOStreams
}

// NewAgentBridgeOptions provides an initialised AgentBridgeOptions instance.
func NewAgentBridgeOptions(streams iooption.IOStreams) *AgentBridgeOptions {
	return &AgentBridgeOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `agentbridge` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewAgentBridgeOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `agentbridge` command and its nested
// children.
func NewRootCommandWithArgs(o *AgentBridgeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "agentbridge [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "LLM-guided browser automation control plane",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewRunCommand(NewRunOptions(o.IOStreams)))
	cmd.AddCommand(NewServeCommand(NewServeOptions()))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}

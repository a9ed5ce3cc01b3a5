// Package cmd wires the vaporvibe command-line interface.
package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vaporvibe",
		Short:         "vaporvibe: a web server where every page is generated by a language model",
		Long:          "vaporvibe serves an entire web application from a single brief. Every request is answered by asking a language model to compose the next HTML document, with session history and reusable fragments keeping the experience coherent.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

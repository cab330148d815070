// Package main is the entry point for the gridproj CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/halfstack-audio/gridproj/pkg/api"
	"github.com/halfstack-audio/gridproj/pkg/container"
	"github.com/halfstack-audio/gridproj/pkg/inspect"
	"github.com/halfstack-audio/gridproj/pkg/intent"
	"github.com/halfstack-audio/gridproj/pkg/midiexport"
	"github.com/halfstack-audio/gridproj/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	outputFile string
	intentFile string
	trackNum   int
	serverPort int
	heuristic  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridproj",
	Short: "Inspect and edit groovebox project files",
	Long: `gridproj decodes, edits, and re-encodes groovebox project files,
preserving every undecoded byte so unmodified projects round-trip exactly.

Examples:
  gridproj inspect song.prj
  gridproj verify song.prj
  gridproj apply song.prj --intent edits.json -o song2.prj
  gridproj export song.prj -o song.mid
  gridproj tui
  gridproj serve --port 8080`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <project>",
	Short: "Decode a project file and print its track layout",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <project>",
	Short: "Check that a project file re-encodes byte for byte",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var applyCmd = &cobra.Command{
	Use:   "apply <project>",
	Short: "Apply a JSON edit document and write the result",
	Long: `Reads a JSON edit document, applies it to the project, validates the
rewritten file, and writes it out. The input file is never modified.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

var exportCmd = &cobra.Command{
	Use:   "export <project>",
	Short: "Render a project's note data to a Standard MIDI File",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// apply command
	applyCmd.Flags().StringVarP(&intentFile, "intent", "i", "", "JSON edit document (required)")
	applyCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path")
	applyCmd.Flags().BoolVar(&heuristic, "allow-heuristic", false,
		"Permit descriptor layouts without a device-verified encoding")
	_ = applyCmd.MarkFlagRequired("intent")

	// export command
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	exportCmd.Flags().IntVarP(&trackNum, "track", "t", 0, "Export a single track (1-16)")

	// serve command
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "Server port")

	// Add commands
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

func getOutputPath(input, defaultExt string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + defaultExt
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	p, err := container.Decode(data)
	if err != nil {
		return err
	}
	fmt.Print(inspect.Summarize(p).String())
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if err := container.VerifyRoundTrip(data); err != nil {
		return err
	}
	fmt.Printf("OK: %s round-trips (%d bytes)\n", args[0], len(data))
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".out"+filepath.Ext(input))

	docData, err := os.ReadFile(intentFile)
	if err != nil {
		return err
	}
	doc, err := intent.Parse(docData)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	p, err := container.Decode(data)
	if err != nil {
		return err
	}
	if err := doc.Apply(p); err != nil {
		return err
	}

	out, err := container.EncodeWithOptions(p, container.EncodeOptions{AllowHeuristic: heuristic})
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, out, 0644); err != nil {
		return err
	}

	fmt.Printf("Applied %s: %s -> %s\n", intentFile, input, output)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".mid")

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	p, err := container.Decode(data)
	if err != nil {
		return err
	}

	exp := midiexport.NewExporter()
	var result []byte
	if trackNum > 0 {
		result, err = exp.ExportTrack(p, trackNum)
	} else {
		result, err = exp.Export(p)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(output, result, 0644); err != nil {
		return err
	}

	fmt.Printf("Exported %s -> %s\n", input, output)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	return tui.Run()
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Printf("Starting API server on port %d...\n", serverPort)
	return api.StartServer(serverPort)
}

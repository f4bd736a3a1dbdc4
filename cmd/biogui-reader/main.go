// biogui-reader - Utility to display contents of biogui recording files
// This program reads and displays the metadata and sample information from
// .dat recordings, and lists past sessions from the session catalog.
package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mere226/biogui/internal/catalog"
	"github.com/Mere226/biogui/internal/recorder"
	"github.com/Mere226/biogui/internal/version"
)

var (
	showSamples  bool
	sampleLimit  int
	showStats    bool
	showGraph    bool
	graphWidth   int
	graphHeight  int
	graphChannel int
	showVersion  bool
	listSessions bool
	catalogPath  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "biogui-reader [file.dat]",
	Short: "Display contents of biogui recording files",
	Long: `biogui-reader displays the metadata and sample data from biogui .dat
recordings. Useful for verifying acquisitions and inspecting recorded
signals.

Display modes:
  --samples    Show decoded sample values per channel
  --stats      Show per-channel statistical analysis
  --graph      Generate ASCII graph of one channel over time
  --sessions   List past sessions from the session catalog`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Handle version flag
		if showVersion {
			fmt.Println(version.GetVersionInfo("biogui Reader"))
			return
		}

		if listSessions {
			if err := displaySessions(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		// Require filename otherwise
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVarP(&showSamples, "samples", "s", false, "display sample data")
	rootCmd.Flags().IntVar(&sampleLimit, "sample-limit", 100, "maximum samples to display (0 = all)")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show per-channel statistical analysis")
	rootCmd.Flags().BoolVarP(&showGraph, "graph", "g", false, "generate ASCII graph of one channel over time")
	rootCmd.Flags().IntVar(&graphWidth, "graph-width", 80, "width of the ASCII graph in characters")
	rootCmd.Flags().IntVar(&graphHeight, "graph-height", 20, "height of the ASCII graph in lines")
	rootCmd.Flags().IntVar(&graphChannel, "graph-channel", 0, "channel to graph")
	rootCmd.Flags().BoolVar(&listSessions, "sessions", false, "list sessions from the catalog")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "./data/biogui.db", "session catalog database path")
}

// displaySessions lists the recorded sessions from the catalog
func displaySessions() error {
	cat, err := catalog.Open(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	records, err := cat.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	fmt.Printf("SESSION CATALOG %s\n\n", catalogPath)
	if len(records) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	fmt.Printf("%-28s %-10s %-20s %-20s %-10s %s\n",
		"ID", "Interface", "Transport", "Start", "Packets", "Files")
	for _, rec := range records {
		fmt.Printf("%-28s %-10s %-20s %-20s %-10d %d\n",
			rec.ID, rec.Interface, rec.Transport,
			rec.Start.Format("2006-01-02 15:04:05"), rec.PacketCount, len(rec.Files))
	}
	return nil
}

// displayFile reads and displays the contents of a biogui recording
func displayFile(filename string) error {
	// Check if file exists
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}

	meta, samples, err := recorder.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}

	fmt.Printf("BIOGUI RECORDING READER %s\n\n", version.GetFullVersion())

	// Display file info
	fileInfo, err := os.Stat(filename)
	if err != nil {
		return err
	}

	fmt.Printf("📁 File Information:\n")
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %.2f MB (%d bytes)\n", float64(fileInfo.Size())/(1024*1024), fileInfo.Size())
	fmt.Printf("Modified: %s\n\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))

	displayMetadata(meta)
	displaySampleInfo(meta)

	channels := int(meta.Channels)
	if showSamples {
		displaySamples(samples, channels)
	}
	if showStats {
		displayStatistics(samples, channels)
	}
	if showGraph {
		if graphChannel < 0 || graphChannel >= channels {
			return fmt.Errorf("invalid graph channel %d (file has %d channels)", graphChannel, channels)
		}
		displayGraph(samples, channels, graphChannel, meta.SampleRate)
	}
	return nil
}

// displayMetadata shows the recording metadata
func displayMetadata(meta recorder.Metadata) {
	fmt.Printf("📊 Recording Metadata:\n")
	fmt.Printf("Signal: %s\n", meta.SignalName)
	fmt.Printf("Interface: %s\n", meta.Interface)
	fmt.Printf("Session ID: %s\n", meta.SessionID)
	fmt.Printf("Sample Rate: %.1f Hz\n", meta.SampleRate)
	fmt.Printf("Channels: %d\n", meta.Channels)
	fmt.Printf("Start Time: %s\n\n", meta.StartTime.Format("2006-01-02 15:04:05.000"))
}

// displaySampleInfo shows information about the recorded frames
func displaySampleInfo(meta recorder.Metadata) {
	duration := float64(meta.FrameCount) / meta.SampleRate

	fmt.Printf("📡 Sample Information:\n")
	fmt.Printf("Total Frames: %d\n", meta.FrameCount)
	fmt.Printf("Sample Type: Float32 x %d channels\n", meta.Channels)
	fmt.Printf("Data Size: %.2f MB\n", float64(int(meta.FrameCount)*int(meta.Channels)*4)/(1024*1024))
	fmt.Printf("Recording Duration: %.3f seconds\n\n", duration)
}

// displaySamples prints decoded frames, one row per frame
func displaySamples(samples []float32, channels int) {
	frames := len(samples) / channels
	limit := frames
	if sampleLimit > 0 && sampleLimit < frames {
		limit = sampleLimit
	}

	fmt.Printf("📈 Sample Data (%d of %d frames):\n", limit, frames)
	fmt.Printf("%-8s", "#")
	for ch := 0; ch < channels; ch++ {
		fmt.Printf(" %-14s", fmt.Sprintf("Ch %d", ch))
	}
	fmt.Println()

	for i := 0; i < limit; i++ {
		fmt.Printf("%-8d", i)
		for ch := 0; ch < channels; ch++ {
			fmt.Printf(" %-14.6f", samples[i*channels+ch])
		}
		fmt.Println()
	}
	if limit < frames {
		fmt.Printf("... %d more frames (use --sample-limit 0 to show all)\n", frames-limit)
	}
	fmt.Println()
}

// displayStatistics shows per-channel statistical analysis
func displayStatistics(samples []float32, channels int) {
	frames := len(samples) / channels
	if frames == 0 {
		fmt.Printf("📊 Statistics: No samples to analyze\n\n")
		return
	}

	fmt.Printf("📊 Statistical Analysis (%d frames):\n", frames)
	fmt.Printf("%-8s %-14s %-14s %-14s %-14s\n", "Channel", "Min", "Max", "Mean", "RMS")

	for ch := 0; ch < channels; ch++ {
		minVal, maxVal := math.Inf(1), math.Inf(-1)
		var sum, sumSq float64
		for i := 0; i < frames; i++ {
			v := float64(samples[i*channels+ch])
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(frames)
		rms := math.Sqrt(sumSq / float64(frames))
		fmt.Printf("%-8d %-14.6f %-14.6f %-14.6f %-14.6f\n", ch, minVal, maxVal, mean, rms)
	}
	fmt.Println()
}

// displayGraph creates an ASCII graph of one channel over time
func displayGraph(samples []float32, channels, channel int, sampleRate float64) {
	frames := len(samples) / channels
	if frames == 0 {
		fmt.Printf("📈 Signal Graph: No samples to display\n\n")
		return
	}

	values := make([]float64, frames)
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for i := 0; i < frames; i++ {
		v := float64(samples[i*channels+channel])
		values[i] = v
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	// Handle edge case where all values are the same
	if maxVal == minVal {
		maxVal = minVal + 1e-6
	}

	totalTime := float64(frames) / sampleRate

	fmt.Printf("📈 Channel %d Over Time:\n", channel)
	fmt.Printf("Frames: %d | Duration: %.3f seconds | Sample Rate: %.1f Hz\n",
		frames, totalTime, sampleRate)
	fmt.Printf("Value Range: %.6f to %.6f\n\n", minVal, maxVal)

	// Create graph grid
	graph := make([][]rune, graphHeight)
	for i := range graph {
		graph[i] = make([]rune, graphWidth)
		for j := range graph[i] {
			graph[i][j] = ' '
		}
	}

	// Plot data points
	for i, v := range values {
		x := 0
		if frames > 1 {
			x = int(float64(i) * float64(graphWidth-1) / float64(frames-1))
		}
		if x >= graphWidth {
			x = graphWidth - 1
		}

		normalized := (v - minVal) / (maxVal - minVal)
		y := int(float64(graphHeight-1) * (1.0 - normalized))
		if y >= graphHeight {
			y = graphHeight - 1
		}
		if y < 0 {
			y = 0
		}

		if graph[y][x] == ' ' {
			graph[y][x] = '*'
		} else {
			graph[y][x] = '#' // Multiple points at same location
		}
	}

	// Display the graph with y-axis labels
	for i, row := range graph {
		normalizedY := float64(graphHeight-1-i) / float64(graphHeight-1)
		value := minVal + normalizedY*(maxVal-minVal)

		fmt.Printf("%10.4f |", value)
		for _, char := range row {
			fmt.Print(string(char))
		}
		fmt.Println("|")
	}

	// Print x-axis
	fmt.Printf("           +")
	fmt.Print(strings.Repeat("-", graphWidth))
	fmt.Println("+")
	fmt.Printf("           0%*s\n", graphWidth-1, fmt.Sprintf("%.3fs", totalTime))
	fmt.Printf("\nLegend: * = data point, # = multiple points, Time →\n\n")
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

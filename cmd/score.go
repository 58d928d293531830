package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seqforge/protrain/pkg/loss"
)

var scoreEpsilon float64

var scoreCmd = &cobra.Command{
	Use:   "score <logits.jsonl>",
	Short: "Recompute cross-entropy metrics from a trainer logits dump",
	Long: `Recompute label-smoothed cross-entropy, NLL and perplexity from a JSONL
dump of trainer outputs. Each line holds one sequence:
  {"logits": [[...], ...], "target": [...], "mask": [...], "weights": [...]}
mask and weights are optional.`,
	Args: cobra.ExactArgs(1),
	Run:  runScore,
}

func init() {
	scoreCmd.Flags().Float64Var(&scoreEpsilon, "epsilon", 0.0, "label smoothing epsilon")
	rootCmd.AddCommand(scoreCmd)
}

type scoreRecord struct {
	Logits  [][]float64 `json:"logits"`
	Target  []int       `json:"target"`
	Mask    []bool      `json:"mask"`
	Weights []float64   `json:"weights"`
}

func runScore(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		color.Red("Failed to open %s: %v", args[0], err)
		os.Exit(1)
	}
	defer f.Close()

	total := &loss.Result{}

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 64*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" {
			continue
		}

		var rec scoreRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			color.Red("Line %d: invalid JSON: %v", lineNum, err)
			os.Exit(1)
		}

		result, err := loss.Compute(rec.Logits, rec.Target, rec.Mask, rec.Weights, scoreEpsilon)
		if err != nil {
			color.Red("Line %d: %v", lineNum, err)
			os.Exit(1)
		}

		total.Merge(result)
	}

	if err := scanner.Err(); err != nil {
		color.Red("Failed to read %s: %v", args[0], err)
		os.Exit(1)
	}

	if total.Sequences == 0 {
		color.Yellow("[INF] No records found in %s.", args[0])
		os.Exit(0)
	}

	fmt.Printf("sequences:     %d\n", total.Sequences)
	fmt.Printf("loss:          %.6f\n", total.Loss())
	fmt.Printf("nll_loss:      %.6f\n", total.NLL())
	fmt.Printf("ppl:           %.4f\n", total.Perplexity())
	fmt.Printf("sample_size:   %.0f\n", total.SampleSize)
	fmt.Printf("sample_ratio:  %.4f\n", total.SampleRatio())
	fmt.Printf("nonpad_ratio:  %.4f\n", total.NonpadRatio())
}

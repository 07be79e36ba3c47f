package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"
	"gonum.org/v1/gonum/stat"

	"github.com/lehigh-university-libraries/ocrworker/internal/config"
	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
	"github.com/lehigh-university-libraries/ocrworker/pkg/imageprep"
	"github.com/lehigh-university-libraries/ocrworker/pkg/quality"
	"github.com/lehigh-university-libraries/ocrworker/pkg/textmetrics"
)

type EvalConfig struct {
	Name      string   `yaml:"name"`
	Language  string   `yaml:"language"`
	CSVPath   string   `yaml:"csv_path"`
	Dir       string   `yaml:"dir"`
	TestRows  []int    `yaml:"rows"`
	Ignore    []string `yaml:"ignore,omitempty"`
	Quality   string   `yaml:"quality"`
	Timestamp string   `yaml:"timestamp"`
}

type EvalResult struct {
	Identifier          string  `yaml:"identifier"`
	TranscriptPath      string  `yaml:"transcript_path"`
	CandidatePath       string  `yaml:"candidate_path"`
	Engine              string  `yaml:"engine"`
	Response            string  `yaml:"response"`
	Confidence          float64 `yaml:"confidence"`
	CharacterSimilarity float64 `yaml:"character_similarity"`
	CharacterErrorRate  float64 `yaml:"character_error_rate"`
	Accepted            bool    `yaml:"accepted"`
	EditDistance        int     `yaml:"edit_distance"`
	AllowedEdits        int     `yaml:"allowed_edits"`
	Reason              string  `yaml:"reason,omitempty"`
	IgnoredCharsCount   int     `yaml:"ignored_chars_count,omitempty"`

	textmetrics.WordMetrics `yaml:",inline"`
}

type EvalSummary struct {
	Config     EvalConfig   `yaml:"config"`
	AcceptRate float64      `yaml:"accept_rate"`
	Results    []EvalResult `yaml:"results"`
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Grade OCR output against ground truth transcripts",
	Long: `Grade OCR output against ground truth transcripts with the same quality
policy the worker applies to graded ocr.perform requests.

This command expects a CSV file with 2 columns:
  transcript,candidate

Where:
  - transcript: path or URL of the ground truth text
  - candidate: a text file holding an external transcription, or an image
    that is recognized through the configured engines

Results are written to evals/<name>.yaml.

Example:
  ocrworker eval --csv set1.csv --dir ./test_images/set1 --name tesseract-psm6`,
	RunE: runEval,
}

var (
	evalCSVPath    string
	evalName       string
	evalDir        string
	evalLanguage   string
	evalConfidence float64
	evalRows       []int
	evalIgnore     []string
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

func init() {
	RootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalCSVPath, "csv", "c", "", "Path to CSV file with evaluation data (required)")
	evalCmd.Flags().StringVarP(&evalName, "name", "n", "eval", "Name of the report written under evals/")
	evalCmd.Flags().StringVar(&evalDir, "dir", "./", "Prepend your CSV file paths with a directory")
	evalCmd.Flags().StringVarP(&evalLanguage, "lang", "l", "auto", "Language hint for image candidates")
	evalCmd.Flags().Float64Var(&evalConfidence, "confidence", 1.0, "Confidence assumed for text candidates")
	evalCmd.Flags().IntSliceVar(&evalRows, "rows", []int{}, "A list of row numbers to process")
	evalCmd.Flags().StringSliceVar(&evalIgnore, "ignore", []string{}, "Ground truth markers for unreadable text, e.g. '|' (a word on its own, a character inside a word)")

	if err := evalCmd.MarkFlagRequired("csv"); err != nil {
		panic(err)
	}
}

// candidateReader produces the text to grade for one CSV row.
type candidateReader func(ctx context.Context, path string) (text string, confidence float64, engineName string, err error)

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	evalConfig := EvalConfig{
		Name:      evalName,
		Language:  evalLanguage,
		CSVPath:   evalCSVPath,
		Dir:       evalDir,
		TestRows:  evalRows,
		Ignore:    evalIgnore,
		Quality:   cfg.Quality.String(),
		Timestamp: time.Now().Format("2006-01-02_15-04-05"),
	}

	// engines are only built when a row points at an image
	var registry *engine.Registry
	defer func() {
		if registry != nil {
			if err := registry.Close(); err != nil {
				slog.Warn("Failed to close engines", "err", utils.MaskSensitiveError(err))
			}
		}
	}()

	read := func(ctx context.Context, path string) (string, float64, string, error) {
		if !isImagePath(path) {
			text, err := readTextFile(ctx, path)
			return text, evalConfidence, "external", err
		}
		if registry == nil {
			registry, err = newRegistry(cfg, newBackends(cfg))
			if err != nil {
				return "", 0, "", err
			}
		}
		return recognizeFile(ctx, registry, cfg, path, evalLanguage)
	}

	evalsDir := "evals"
	if err := os.MkdirAll(evalsDir, 0755); err != nil {
		return fmt.Errorf("failed to create evals directory: %w", err)
	}

	results, err := processEvaluation(cmd.Context(), evalConfig, cfg.Quality, read)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	summary := EvalSummary{
		Config:     evalConfig,
		AcceptRate: acceptRate(results),
		Results:    results,
	}

	m := strings.ReplaceAll(evalConfig.Name, ":", "_")
	outputPath := filepath.Join(evalsDir, fmt.Sprintf("%s.yaml", m))
	if err := saveEvalResults(summary, outputPath); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nEvaluation completed. Results saved to: %s\n", outputPath)
	printSummaryStats(cmd.OutOrStdout(), results)

	return nil
}

func recognizeFile(ctx context.Context, registry *engine.Registry, cfg config.Config, path, lang string) (string, float64, string, error) {
	img, err := imageprep.ReadFile(path)
	if err != nil {
		return "", 0, "", err
	}
	prep := imageprep.DefaultOptions()
	prep.MinHeight = cfg.UpscaleMinHeight
	prep.Grayscale = cfg.Grayscale
	img, err = imageprep.Prepare(img, prep)
	if err != nil {
		return "", 0, "", err
	}

	res, outcome := registry.RecognizeWithFallback(ctx, img, lang, cfg.PrimaryTimeout)
	if !outcome.Succeeded() {
		slog.Warn("No engine produced text", "path", path, "attempts", outcome.Attempts)
	}
	conf, _ := res.MeanConfidence()
	return res.CombinedText(), conf, res.Engine, nil
}

func processEvaluation(ctx context.Context, config EvalConfig, qcfg quality.Config, read candidateReader) ([]EvalResult, error) {
	file, err := os.Open(config.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	// Skip header row if present
	dataRows := records
	if strings.EqualFold(strings.TrimSpace(records[0][0]), "transcript") {
		dataRows = records[1:]
	}

	var results []EvalResult
	for i, row := range dataRows {
		if len(config.TestRows) > 0 && !slices.Contains(config.TestRows, i) {
			slog.Debug("Skipping row", "row", i+1)
			continue
		}

		if len(row) < 2 {
			slog.Warn("Insufficient columns (expected 2: transcript, candidate)", "row", i+1, "columns", len(row))
			continue
		}

		result, err := processRow(ctx, row, config, qcfg, read)
		if err != nil {
			slog.Error("Error processing row", "row", i+1, "err", utils.MaskSensitiveError(err))
			continue
		}

		results = append(results, result)
		printRowResult(os.Stdout, result)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("no rows were successfully processed")
	}

	return results, nil
}

func processRow(ctx context.Context, row []string, config EvalConfig, qcfg quality.Config, read candidateReader) (EvalResult, error) {
	transcriptPath := joinPath(config.Dir, strings.TrimSpace(row[0]))
	candidatePath := joinPath(config.Dir, strings.TrimSpace(row[1]))

	groundTruth, err := readTextFile(ctx, transcriptPath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to read ground truth transcript: %w", err)
	}

	candidate, confidence, engineName, err := read(ctx, candidatePath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to read candidate: %w", err)
	}

	result := gradeTranscription(groundTruth, candidate, confidence, qcfg, config.Ignore)
	result.Identifier = filepath.Base(transcriptPath)
	result.TranscriptPath = transcriptPath
	result.CandidatePath = candidatePath
	result.Engine = engineName
	return result, nil
}

// gradeTranscription scores candidate against groundTruth. Character and word
// metrics are computed on the same normalized text the quality judge sees.
func gradeTranscription(groundTruth, candidate string, confidence float64, qcfg quality.Config, ignore []string) EvalResult {
	ignored := 0
	if len(ignore) > 0 {
		groundTruth, candidate, ignored = applyIgnorePatterns(
			strings.Join(strings.Fields(groundTruth), " "),
			strings.Join(strings.Fields(candidate), " "),
			ignore,
		)
	}
	v := quality.Judge(groundTruth, candidate, confidence, qcfg)

	return EvalResult{
		IgnoredCharsCount:   ignored,
		Response:            candidate,
		Confidence:          confidence,
		CharacterSimilarity: textmetrics.Similarity(v.NormalizedExpected, v.NormalizedActual),
		CharacterErrorRate:  textmetrics.CharacterErrorRate(v.NormalizedExpected, v.NormalizedActual),
		Accepted:            v.Accepted,
		EditDistance:        textmetrics.EditDistance(v.NormalizedExpected, v.NormalizedActual),
		AllowedEdits:        v.AllowedEdits,
		Reason:              v.Reason,
		WordMetrics:         textmetrics.CompareWords(v.NormalizedExpected, v.NormalizedActual),
	}
}

// applyIgnorePatterns blanks out the parts of the ground truth marked as
// unreadable and the aligned parts of the transcription. Words are aligned by
// position. A marker standing alone drops the whole word. A marker inside a
// word drops one character at the same position in the transcribed word.
// The count is the number of marker characters removed.
func applyIgnorePatterns(groundTruth, transcription string, patterns []string) (string, string, int) {
	var markers [][]rune
	for _, p := range patterns {
		if p != "" {
			markers = append(markers, []rune(p))
		}
	}
	if len(markers) == 0 {
		return groundTruth, transcription, 0
	}

	gtWords := strings.Split(groundTruth, " ")
	trWords := strings.Split(transcription, " ")
	ignored := 0

	for i, word := range gtWords {
		if m := standaloneMarker(word, markers); m != nil {
			gtWords[i] = ""
			if i < len(trWords) {
				trWords[i] = ""
			}
			ignored += len(m)
			continue
		}

		kept, positions, n := stripMarkers([]rune(word), markers)
		if len(positions) == 0 {
			continue
		}
		ignored += n
		gtWords[i] = string(kept)
		if i < len(trWords) {
			trWords[i] = dropRunes(trWords[i], positions)
		}
	}

	return strings.Join(gtWords, " "), strings.Join(trWords, " "), ignored
}

func standaloneMarker(word string, markers [][]rune) []rune {
	for _, m := range markers {
		if word == string(m) {
			return m
		}
	}
	return nil
}

// stripMarkers removes markers from word. positions are the indexes, in the
// unmarked word, of the characters each marker stands for.
func stripMarkers(word []rune, markers [][]rune) (kept []rune, positions []int, removed int) {
	for i := 0; i < len(word); {
		if m := markerAt(word[i:], markers); m != nil {
			positions = append(positions, len(kept)+len(positions))
			removed += len(m)
			i += len(m)
			continue
		}
		kept = append(kept, word[i])
		i++
	}
	return kept, positions, removed
}

func markerAt(s []rune, markers [][]rune) []rune {
	for _, m := range markers {
		if len(s) >= len(m) && slices.Equal(s[:len(m)], m) {
			return m
		}
	}
	return nil
}

func dropRunes(word string, positions []int) string {
	runes := []rune(word)
	out := make([]rune, 0, len(runes))
	for i, r := range runes {
		if !slices.Contains(positions, i) {
			out = append(out, r)
		}
	}
	return string(out)
}

func joinPath(dir, p string) string {
	if isURL(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

func isImagePath(p string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(p)))
}

func readTextFile(ctx context.Context, path string) (string, error) {
	if isURL(path) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch %s: %s", path, resp.Status)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("file is empty")
	}
	return string(data), nil
}

func saveEvalResults(summary EvalSummary, outputPath string) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, data, 0644)
}

func acceptRate(results []EvalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
		}
	}
	return float64(accepted) / float64(len(results))
}

func printRowResult(w io.Writer, result EvalResult) {
	verdict := "accepted"
	if !result.Accepted {
		verdict = "rejected (" + result.Reason + ")"
	}
	fmt.Fprintf(w, "\n=== Results for %s ===\n", result.Identifier)
	fmt.Fprintf(w, "Candidate: %s\n", result.CandidatePath)
	fmt.Fprintf(w, "Engine: %s\n", result.Engine)
	fmt.Fprintf(w, "Verdict: %s\n", verdict)
	fmt.Fprintf(w, "Confidence: %.3f\n", result.Confidence)
	fmt.Fprintf(w, "Edit Distance: %d (allowed %d)\n", result.EditDistance, result.AllowedEdits)
	fmt.Fprintf(w, "Character Error Rate: %.3f\n", result.CharacterErrorRate)
	fmt.Fprintf(w, "Word Accuracy: %.3f\n", result.WordAccuracy)
	fmt.Fprintf(w, "Word Error Rate: %.3f\n", result.WordErrorRate)
}

func printSummaryStats(w io.Writer, results []EvalResult) {
	if len(results) == 0 {
		return
	}

	cer := make([]float64, len(results))
	sim := make([]float64, len(results))
	wacc := make([]float64, len(results))
	wer := make([]float64, len(results))
	for i, r := range results {
		cer[i] = r.CharacterErrorRate
		sim[i] = r.CharacterSimilarity
		wacc[i] = r.WordAccuracy
		wer[i] = r.WordErrorRate
	}

	fmt.Fprintf(w, "\n=== SUMMARY STATISTICS ===\n")
	fmt.Fprintf(w, "Total Evaluations: %d\n", len(results))
	fmt.Fprintf(w, "Accept Rate: %.3f\n", acceptRate(results))
	fmt.Fprintf(w, "Average Character Error Rate: %.3f\n", stat.Mean(cer, nil))
	fmt.Fprintf(w, "Average Character Similarity: %.3f\n", stat.Mean(sim, nil))
	fmt.Fprintf(w, "Average Word Accuracy: %.3f\n", stat.Mean(wacc, nil))
	fmt.Fprintf(w, "Average Word Error Rate: %.3f\n", stat.Mean(wer, nil))
}

// Package ocr turns a menu photo into normalized text, dish tokens and a quick
// heuristic allergen verdict. Text recognition shells out to tesseract.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/menu-safety/constants"
)

// ErrNoText is returned when recognition succeeds but yields no usable text.
var ErrNoText = errors.New("ocr: no text recognised")

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string

	PSM int // page segmentation mode; 4 suits single-column menus
	OEM int // 1 = LSTM; leave 0 to use default

	EnableTSVConfidence bool

	// Runner executes tesseract; nil uses os/exec.
	Runner Runner
}

// Result is everything the scan pipeline needs from the OCR stage.
type Result struct {
	Text       string
	Tokens     []string
	Quick      QuickVerdict
	Language   string
	Method     string // "image-ocr" | "text"
	Confidence float32
	Duration   time.Duration
	Warnings   []string
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Extractor{cfg: cfg, runner: runner, logger: logger}
}

// Extract recognises the menu photo at path.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !constants.IsImageExt(ext) {
		e.logger.Error("unsupported ocr extension", "extension", ext)
		return Result{}, fmt.Errorf("unsupported extension: %q", ext)
	}
	e.logger.Debug("ocr.extract.start", "path", path, "ext", ext)

	raw, warn, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return Result{Warnings: warn}, err
	}

	var ocrConf float32
	if e.cfg.EnableTSVConfidence {
		if c, err := e.tesseractTSVConfidence(ctx, path); err == nil {
			ocrConf = c
		} else {
			warn = append(warn, err.Error())
		}
	}

	res, err := analyse(raw)
	res.Method = "image-ocr"
	res.Language = e.cfg.TesseractLang
	res.Warnings = append(warn, res.Warnings...)
	if ocrConf > 0 {
		// weight the engine's own word confidence over the text heuristic
		res.Confidence = min(0.7*ocrConf+0.3*res.Confidence, 1)
	}
	res.Duration = time.Since(start)

	e.logger.Info("ocr.extract.done",
		"path", path,
		"tokens", len(res.Tokens),
		"flagged", res.Quick.Flagged,
		"confidence", res.Confidence,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, err
}

// FromText runs the same post-processing as Extract on text that was already
// recognised (or typed in), with no external command.
func FromText(text string) (Result, error) {
	start := time.Now()
	res, err := analyse(text)
	res.Method = "text"
	res.Duration = time.Since(start)
	return res, err
}

func analyse(raw string) (Result, error) {
	txt := Normalize(raw)
	tokens := MenuTokens(txt)
	res := Result{
		Text:       txt,
		Tokens:     tokens,
		Quick:      QuickScan(tokens),
		Confidence: heuristicConfidence(txt, tokens),
	}
	if len(tokens) == 0 {
		return res, ErrNoText
	}
	return res, nil
}

func (e *Extractor) baseArgs(path string) []string {
	// tesseract <file> stdout -l <lang>
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.baseArgs(path)...)
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}
	return string(out), nil, nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (e *Extractor) tesseractTSVConfidence(ctx context.Context, path string) (float32, error) {
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, append(e.baseArgs(path), "tsv")...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w", err)
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float32 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		// conf is the 11th column; -1 marks non-word rows
		confStr := strings.TrimSpace(cols[10])
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float32(sum / n / 100)
}

var reMenuPrice = regexp.MustCompile(`[$£€¥]\s?\d|\b\d+[.,]\d{2}\b`)

// heuristicConfidence scores how much txt looks like a menu.
func heuristicConfidence(txt string, tokens []string) float32 {
	score := float32(0.2)
	if reMenuPrice.MatchString(txt) {
		score += 0.25
	}
	if len(tokens) >= 3 {
		score += 0.2
	}
	if len(txt) > 120 {
		score += 0.15
	}
	letters, total := 0, 0
	for _, r := range txt {
		if r == ' ' || r == '\n' {
			continue
		}
		total++
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r > 0x7f {
			letters++
		}
	}
	if total > 0 && float32(letters)/float32(total) > 0.6 {
		score += 0.2
	}
	return min(score, 1)
}

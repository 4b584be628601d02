package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/RyanBlaney/sonido-analyzer/analyzer"
	"github.com/RyanBlaney/sonido-analyzer/analyzer/config"
	"github.com/RyanBlaney/sonido-analyzer/logging"
	"github.com/RyanBlaney/sonido-analyzer/transcode"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const usage = `usage:
  sonido-analyze analyze [-detail] [-debug] [-env file] [-workers n] <file>...
  sonido-analyze synth [-bpm 120] [-seconds 20] [-rate 22050] -out clicks.wav`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "analyze":
		err = runAnalyze(os.Args[2:])
	case "synth":
		err = runSynth(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	detail := fs.Bool("detail", false, "print candidates and stage timings")
	debug := fs.Bool("debug", false, "enable debug logging")
	envFile := fs.String("env", ".env", "optional .env file with SONIDO_* settings")
	workers := fs.Int("workers", 1, "concurrent analyses (0=auto)")
	fs.Parse(args)

	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("no input files\n%s", usage)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logging.SetLevel(cfg.Level())
	if *debug {
		logging.SetLevel(logging.DebugLevel)
	}

	decoder, err := transcode.NewAutoDecoder(cfg.DecoderConfig())
	if err != nil {
		return err
	}
	a := analyzer.New(cfg, decoder, logging.GetGlobalLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if needsFFmpeg(files) {
		if err := decoder.CheckFFmpeg(ctx); err != nil {
			logging.Warn("ffmpeg unavailable, only WAV files can be decoded", logging.Fields{
				"error": err.Error(),
			})
		}
	}

	reports := analyzeAll(ctx, a, files, *workers)

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, r := range reports {
		var v any = r.Result
		if *detail {
			v = r
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
		if !r.Result.Success {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(files))
	}
	return nil
}

// analyzeAll runs the analyses on a worker pool and returns reports in input
// order. A progress bar is drawn on stderr for more than one file.
func analyzeAll(ctx context.Context, a *analyzer.Analyzer, files []string, workers int) []analyzer.Report {
	reports := make([]analyzer.Report, len(files))

	if workers <= 0 {
		workers = max(1, runtime.NumCPU()/2)
	}
	workers = min(workers, len(files))

	var p *mpb.Progress
	var bar *mpb.Bar
	if len(files) > 1 {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar = p.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("Analyzing: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
	}

	jobs := make(chan int, len(files))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i] = a.AnalyzeDetailed(ctx, files[i])
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}

	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if p != nil {
		p.Wait()
	}
	return reports
}

func needsFFmpeg(files []string) bool {
	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f), ".wav") {
			return true
		}
	}
	return false
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	bpm := fs.Float64("bpm", 120, "click tempo")
	seconds := fs.Float64("seconds", 20, "length in seconds")
	rate := fs.Int("rate", 22050, "sample rate")
	out := fs.String("out", "", "output WAV path")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("synth needs -out\n%s", usage)
	}
	if *bpm <= 0 || *seconds <= 0 || *rate <= 0 {
		return fmt.Errorf("bpm, seconds and rate must be positive")
	}

	if err := transcode.WriteWAV(*out, clickTrain(*bpm, *seconds, *rate), *rate); err != nil {
		return err
	}

	logging.Info("Click track written", logging.Fields{
		"path":    *out,
		"bpm":     *bpm,
		"seconds": *seconds,
	})
	return nil
}

// clickTrain renders 20 ms decaying 1 kHz bursts on every beat
func clickTrain(bpm, seconds float64, sampleRate int) []float64 {
	sr := float64(sampleRate)
	n := int(seconds * sr)
	signal := make([]float64, n)
	burst := int(0.02 * sr)

	for beat := 0.0; beat < seconds; beat += 60 / bpm {
		start := int(math.Round(beat * sr))
		for i := 0; i < burst && start+i < n; i++ {
			decay := math.Exp(-float64(i) / (0.005 * sr))
			signal[start+i] += 0.8 * math.Sin(2*math.Pi*1000*float64(i)/sr) * decay
		}
	}
	return signal
}

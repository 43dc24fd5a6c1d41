package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	"pianoroll/config"
	"pianoroll/generator"
	"pianoroll/logger"
	"pianoroll/midi"
	"pianoroll/scheduler"
	"pianoroll/sequence"
	"pianoroll/theme"
	"pianoroll/transport"
	"pianoroll/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pianoroll: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := cfg.LogFile
	if logPath == "" && cfg.Debug {
		if dir, err := config.Dir(); err == nil {
			logPath = filepath.Join(dir, "debug.log")
		}
	}
	log, err := logger.New(logPath, cfg.Debug)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer log.Sync()

	seq, err := demoSequence(cfg.PPQ)
	if err != nil {
		return err
	}
	store := sequence.NewStore(seq)
	tr := transport.New(seq.Tempo, transport.WithLogger(log))

	var sink midi.Sink = midi.Discard{}
	port := ""
	if out, err := midi.OpenPort(cfg.OutputPort); err != nil {
		log.Warn("midi output unavailable, discarding events",
			zap.String("want", cfg.OutputPort), zap.Error(err))
	} else {
		sink = out
		port = out.Name()
	}
	defer sink.Close()

	sched, err := scheduler.New(store, tr, sink,
		scheduler.WithLookahead(time.Duration(cfg.LookaheadMs)*time.Millisecond),
		scheduler.WithPeriod(time.Duration(cfg.DispatchMs)*time.Millisecond),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Close()

	pal := theme.Default()
	if dir, err := config.Dir(); err == nil {
		if p, err := theme.LoadGPL(filepath.Join(dir, "palette.gpl")); err == nil {
			pal = p
		}
	}

	m := tui.NewModel(tui.App{
		Store:     store,
		Transport: tr,
		Scheduler: sched,
		Sink:      sink,
		Port:      port,
		Log:       log,
	}, theme.New(pal))

	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// demoSequence seeds the store with something audible on first launch: a
// generated melody on channel 0 and a euclidean pulse line on channel 9.
func demoSequence(ppq int64) (*sequence.Sequence, error) {
	seq, err := sequence.New(ppq)
	if err != nil {
		return nil, err
	}
	if seq, err = seq.AddTrack("melody", 0); err != nil {
		return nil, err
	}
	if seq, err = seq.AddTrack("pulse", 9); err != nil {
		return nil, err
	}

	mel := generator.DefaultMelody()
	mel.Seed = 42
	notes, err := generator.Generate(generator.Region{PPQ: ppq}, mel)
	if err != nil {
		return nil, err
	}
	if seq, err = seq.MergeNotes(0, notes); err != nil {
		return nil, err
	}

	rhy := generator.DefaultRhythm()
	rhy.Mode = generator.RhythmEuclidean
	rhy.Seed = 42
	notes, err = generator.Generate(generator.Region{PPQ: ppq, Channel: 9}, rhy)
	if err != nil {
		return nil, err
	}
	if seq, err = seq.MergeNotes(1, notes); err != nil {
		return nil, err
	}
	return seq, nil
}

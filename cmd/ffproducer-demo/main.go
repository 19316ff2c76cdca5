// Command ffproducer-demo opens a single producer from a command-token
// string and polls it at the channel's frame rate, logging each frame it
// receives until the source is exhausted or the process is interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ffproducer "github.com/mediaforge/ffproducer"
	"github.com/mediaforge/ffproducer/media"
	"github.com/mediaforge/ffproducer/params"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var command string
	flag.StringVar(&command, "command", "", `producer command, e.g. "clip.mov LOOP" or "DEVICE dshow://video=Camera"`)
	flag.Parse()
	if command == "" && flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	if command == "" {
		fmt.Fprintln(os.Stderr, "usage: ffproducer-demo <command>")
		os.Exit(2)
	}

	p, err := params.Parse(command)
	if err != nil {
		slog.Error("failed to parse command", "command", command, "error", err)
		os.Exit(1)
	}

	format := channelFormat()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	producer, err := ffproducer.New(ctx, p, format, slog.Default())
	if err != nil {
		slog.Error("failed to start producer", "resource", p.Resource, "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	slog.Info("producer started", "info", producer.Info())

	tick := time.NewTicker(time.Duration(float64(time.Second) / format.FPS))
	defer tick.Stop()

	var prev *media.OutputFrame
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopped", "frames", producer.NbFrames())
			return
		case <-tick.C:
			frame, late, err := producer.Receive(0)
			if err != nil {
				slog.Error("receive failed", "error", err)
				return
			}
			// Once the worker has stopped and its queue is drained, Receive
			// hands back the last frame again (or nil if none was produced).
			if producer.Exhausted() && (frame == nil || frame == prev) {
				slog.Info("producer exhausted", "frames", producer.NbFrames())
				return
			}
			prev = frame
			slog.Debug("frame", "n", producer.NbFrames(), "late", late)
		}
	}
}

// channelFormat builds the fixed target format the demo polls against,
// overridable through environment variables for quick experimentation
// without a real mixer supplying one.
func channelFormat() media.VideoFormatDesc {
	return media.VideoFormatDesc{
		Width:           envInt("CHANNEL_WIDTH", 1920),
		Height:          envInt("CHANNEL_HEIGHT", 1080),
		Layout:          media.PixelLayoutBGRA,
		FieldMode:       media.FieldModeProgressive,
		FPS:             envFloat("CHANNEL_FPS", 25),
		AudioChannels:   envInt("CHANNEL_AUDIO_CHANNELS", 2),
		AudioSampleRate: envInt("CHANNEL_AUDIO_RATE", 48000),
		AudioCadence:    media.NewAudioCadence([]int{int(envFloat("CHANNEL_AUDIO_RATE", 48000) / envFloat("CHANNEL_FPS", 25))}),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"imagetovideo/internal/generation"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Wait for a generation job and save the video",
		ArgsUsage: "<job-id> [output-dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "api-key",
				Usage:    "Stability API key",
				Sources:  cli.EnvVars("STABILITY_API_KEY"),
				Required: true,
			},
			&cli.StringFlag{
				Name:  "api-host",
				Usage: "Stability API host",
				Value: generation.DefaultAPIHost,
			},
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "Maximum number of polls",
				Value: generation.DefaultWaitOptions().MaxAttempts,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Delay between polls",
				Value: generation.DefaultWaitOptions().Interval,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().Get(0)
			if id == "" {
				return fmt.Errorf("job ID is required")
			}
			outputDir := cmd.Args().Get(1)
			if outputDir == "" {
				outputDir = "output"
			}

			client := generation.NewClient(generation.Options{
				APIKey:  cmd.String("api-key"),
				APIHost: cmd.String("api-host"),
			})
			path, err := fetchVideo(ctx, client, outputDir, id, generation.WaitOptions{
				MaxAttempts: int(cmd.Int("attempts")),
				Interval:    cmd.Duration("interval"),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.Root().Writer, "saved %s\n", path)
			return nil
		},
	}
}

// fetchVideo waits for id and returns the path of the saved video. A video
// already present in dir is returned without polling.
func fetchVideo(ctx context.Context, fetcher generation.ResultFetcher, dir, id string, opts generation.WaitOptions) (string, error) {
	cache, err := newDirCache(dir)
	if err != nil {
		return "", err
	}

	start := time.Now()
	if _, err := generation.NewPoller(fetcher, cache).Wait(ctx, id, opts); err != nil {
		switch {
		case errors.Is(err, generation.ErrJobNotFound):
			return "", fmt.Errorf("job %s not found", id)
		case errors.Is(err, generation.ErrWaitTimeout):
			return "", fmt.Errorf("job %s still processing: %w", id, err)
		default:
			return "", fmt.Errorf("fetching job %s: %w", id, err)
		}
	}

	slog.Info("video saved", "video_id", id, "path", cache.path(id), "duration", time.Since(start).String())
	return cache.path(id), nil
}

// dirCache keeps videos as <dir>/<id>.mp4.
type dirCache struct {
	dir string
}

func newDirCache(dir string) (*dirCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &dirCache{dir: dir}, nil
}

func (c *dirCache) path(id string) string {
	return filepath.Join(c.dir, id+".mp4")
}

func (c *dirCache) LoadVideo(id string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached video: %w", err)
	}
	return data, true, nil
}

func (c *dirCache) StoreVideo(id string, video []byte) error {
	tmp, err := os.CreateTemp(c.dir, id+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary video file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(video); err != nil {
		tmp.Close()
		return fmt.Errorf("writing video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing video: %w", err)
	}
	return os.Rename(tmp.Name(), c.path(id))
}

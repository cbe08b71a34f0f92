package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/spotcore/internal/engine"
	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/urfave/cli/v3"
)

func pathArg(cmd *cli.Command) (string, error) {
	path := strings.TrimSpace(cmd.StringArg("path"))
	if path == "" {
		return "", fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if !strings.HasPrefix(path, "/") && !strings.Contains(path, "://") {
		path = "/" + path
	}
	return path, nil
}

func queryFlag(cmd *cli.Command) ([]engine.Param, error) {
	var params []engine.Param
	for _, raw := range cmd.StringSlice("query") {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: query %q is not name=value", shared.ErrInvalidArgument, raw)
		}
		params = append(params, engine.Q(name, value))
	}
	return params, nil
}

// Get performs a GET through the engine and prints the JSON body.
func (r *Runner) Get(ctx context.Context, cmd *cli.Command) error {
	path, err := pathArg(cmd)
	if err != nil {
		return err
	}
	query, err := queryFlag(cmd)
	if err != nil {
		return err
	}
	exec, err := r.executor(cmd.Bool("app"))
	if err != nil {
		return explain(err)
	}

	// Do rather than Perform so a 204 prints nothing instead of failing to decode.
	resp, err := exec.Do(ctx, engine.Get(path, query...))
	if err != nil {
		return explain(err)
	}
	return r.writeRaw(resp.Body, cmd.Bool("pretty"))
}

// Paginate streams a listing's items, fetching pages only as they are printed.
func (r *Runner) Paginate(ctx context.Context, cmd *cli.Command) error {
	path, err := pathArg(cmd)
	if err != nil {
		return err
	}
	query, err := queryFlag(cmd)
	if err != nil {
		return err
	}
	exec, err := r.executor(cmd.Bool("app"))
	if err != nil {
		return explain(err)
	}

	opts := engine.PageOptions{
		Limit:    cmd.Int("limit"),
		Offset:   cmd.Int("offset"),
		MaxItems: cmd.Int("max-items"),
		MaxPages: cmd.Int("max-pages"),
	}

	count := 0
	for item, err := range engine.Items(ctx, engine.OffsetFetcher[json.RawMessage](exec, path, query...), opts) {
		if err != nil {
			return explain(err)
		}
		if err := r.writeRaw(item, false); err != nil {
			return err
		}
		count++
	}

	r.logger.Debug("pagination finished", "path", path, "items", count)
	return ctx.Err()
}

// Events runs a GET (concurrently with --repeat) and prints the lifecycle events it produced.
func (r *Runner) Events(ctx context.Context, cmd *cli.Command) error {
	path, err := pathArg(cmd)
	if err != nil {
		return err
	}

	// Performance events are only published while debugging.
	r.config.Engine.Debug.Enabled = true
	sub := r.bus.Subscribe(r.config.Engine.Debug.EventBuffer)
	defer sub.Close()

	exec, err := r.executor(cmd.Bool("app"))
	if err != nil {
		return explain(err)
	}

	repeat := max(cmd.Int("repeat"), 1)
	errs := make([]error, repeat)
	var wg sync.WaitGroup
	for i := range repeat {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = exec.Do(ctx, engine.Get(path))
		}()
	}
	wg.Wait()

	for _, e := range sub.Drain() {
		r.writePlain("%s\n", r.palette.Event(e))
	}
	if dropped := sub.Dropped(); dropped > 0 {
		r.writePlain("%s\n", r.palette.Warn(fmt.Sprintf("%d events dropped", dropped)))
	}

	m := exec.Metrics()
	r.writePlain("%s calls=%d failures=%d attempts=%d retries=%d shared=%d mean=%s max=%s\n",
		r.palette.Title("metrics"), m.Calls, m.Failures, m.Attempts, m.Retries, m.Shared, m.MeanLatency(), m.MaxLatency)

	for _, err := range errs {
		if err != nil {
			return explain(err)
		}
	}
	return nil
}

func (r *Runner) writeRaw(body []byte, pretty bool) error {
	if len(body) == 0 {
		return nil
	}
	var buf bytes.Buffer
	var err error
	if pretty {
		err = json.Indent(&buf, body, "", "  ")
	} else {
		err = json.Compact(&buf, body)
	}
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	buf.WriteByte('\n')
	if _, err := r.output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/loykin/applauncher/pkg/client"
)

// command runs the client subcommands against the daemon API.
type command struct {
	flags  *GlobalFlags
	out    io.Writer
	errOut io.Writer
}

func (c *command) client() *client.Client {
	cfg := client.DefaultConfig()
	if c.flags.APIUrl != "" {
		cfg.BaseURL = c.flags.APIUrl
	}
	if c.flags.APITimeout > 0 {
		cfg.Timeout = c.flags.APITimeout
	}
	return client.New(cfg)
}

func (c *command) List(ctx context.Context, name string, detect bool) error {
	api := c.client()
	if name != "" {
		get := api.Profile
		if detect {
			get = api.Detect
		}
		p, err := get(ctx, name)
		if err != nil {
			return err
		}
		printJSON(c.out, p)
		return nil
	}
	ps, err := api.Profiles(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, ps)
	return nil
}

func (c *command) Status(ctx context.Context) error {
	st, err := c.client().Status(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) Launch(ctx context.Context, name string) error {
	res, err := c.client().Launch(ctx, name)
	if err != nil {
		return err
	}
	c.printResult(res)
	return nil
}

func (c *command) Stop(ctx context.Context, name string) error {
	res, err := c.client().Stop(ctx, name)
	if err != nil {
		return err
	}
	c.printResult(res)
	return nil
}

func (c *command) StopAll(ctx context.Context) error {
	results, err := c.client().StopAll(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, results)
	for _, r := range results {
		c.printWarnings(r.Warnings)
	}
	return nil
}

func (c *command) ProfileAdd(ctx context.Context, name string) error {
	if err := c.client().AddProfile(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "profile %q added\n", name)
	return nil
}

func (c *command) ProfileRename(ctx context.Context, from, to string) error {
	if err := c.client().RenameProfile(ctx, from, to); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "profile %q renamed to %q\n", from, to)
	return nil
}

func (c *command) ProfileRemove(ctx context.Context, name string) error {
	if err := c.client().RemoveProfile(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "profile %q removed\n", name)
	return nil
}

func (c *command) AppAdd(ctx context.Context, profile string, f AppFlags) error {
	i, err := c.client().AddApp(ctx, profile, client.AppRequest{
		Name:      f.Name,
		Path:      f.Path,
		Arguments: f.Arguments,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "application added to %q at index %d\n", profile, i)
	return nil
}

func (c *command) AppSet(ctx context.Context, profile string, index int, u client.AppUpdate) error {
	if u.Name == nil && u.Path == nil && u.Arguments == nil {
		return fmt.Errorf("nothing to change: use --name, --path or --args")
	}
	app, err := c.client().UpdateApp(ctx, profile, index, u)
	if err != nil {
		return err
	}
	printJSON(c.out, app)
	return nil
}

func (c *command) AppRemove(ctx context.Context, profile string, index int) error {
	if err := c.client().RemoveApp(ctx, profile, index); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "application %d removed from %q\n", index, profile)
	return nil
}

func (c *command) AppMove(ctx context.Context, profile string, from, to int) error {
	if err := c.client().MoveApp(ctx, profile, from, to); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "application moved from %d to %d in %q\n", from, to, profile)
	return nil
}

func (c *command) AppStop(ctx context.Context, profile string, index int) error {
	res, err := c.client().StopApp(ctx, profile, index)
	if err != nil {
		return err
	}
	c.printResult(res)
	return nil
}

// Events prints one line per event until ctx is done.
func (c *command) Events(ctx context.Context) error {
	err := c.client().Events(ctx, func(ev client.Event) error {
		line := fmt.Sprintf("%s %s %s", ev.At.Format("15:04:05"), ev.Kind, ev.Profile)
		if ev.Entry != "" {
			line += "/" + ev.Entry
		}
		if ev.PID != 0 {
			line += fmt.Sprintf(" pid=%d", ev.PID)
		}
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		_, err := fmt.Fprintln(c.out, line)
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *command) History(ctx context.Context, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	evs, err := c.client().History(ctx, limit)
	if err != nil {
		return err
	}
	printJSON(c.out, evs)
	return nil
}

func (c *command) Resources(ctx context.Context) error {
	rs, err := c.client().Resources(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, rs)
	return nil
}

func (c *command) printResult(r client.Result) {
	printJSON(c.out, r)
	c.printWarnings(r.Warnings)
}

// printWarnings reports per-entry failures; they never fail the command.
func (c *command) printWarnings(ws []client.Warning) {
	for _, w := range ws {
		_, _ = fmt.Fprintf(c.errOut, "warning: %s/%s: %s\n", w.Profile, w.Entry, w.Message)
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q: must be a non-negative integer", s)
	}
	return i, nil
}

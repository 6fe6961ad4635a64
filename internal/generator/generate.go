package generator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/starford/stencil/internal/apperr"
	"github.com/starford/stencil/internal/checksum"
	"github.com/starford/stencil/internal/ledger"
	"github.com/starford/stencil/internal/model"
	"github.com/starford/stencil/internal/registry"
	"github.com/starford/stencil/internal/templates"
)

// generate brings one template's outputs up to date. Failures are recorded
// in the result and never escape.
func (c *Controller) generate(ctx context.Context, id string) model.GenerationResult {
	started := time.Now()
	res := model.GenerationResult{Template: id}
	defer func() { res.Elapsed = time.Since(started) }()

	tmpl, removed, err := c.load(id)
	switch {
	case removed:
		res.Removed = c.removeTemplate(id)
		return res
	case err != nil:
		res.Fail(err)
		return res
	}

	c.render(ctx, tmpl, &res)
	return res
}

// load returns the current parse of id, re-parsing when the file changed
// since the last applied parse. removed reports that the file is gone.
func (c *Controller) load(id string) (tmpl *templates.Template, removed bool, err error) {
	d, ok := c.d.Registry.Lookup(id)
	if !ok || d.Stale() {
		seq := model.NextSeq()
		data, readErr := c.d.Templates.Read(id)
		if readErr != nil {
			if errors.Is(readErr, fs.ErrNotExist) {
				return nil, true, nil
			}
			return nil, false, apperr.TemplateParse(id, readErr)
		}
		parsed, parseErr := templates.Parse(id, data)
		if c.d.Registry.Update(id, registry.ParseResult{Template: parsed, Err: parseErr}, seq) {
			c.logger.Debug("generator: parsed template", slog.String("template", id), slog.Uint64("seq", seq))
		}
		d, _ = c.d.Registry.Lookup(id)
	}
	if d.Template == nil {
		if d.Err == nil {
			return nil, false, apperr.TemplateParse(id, errors.New("template not parsed"))
		}
		return nil, false, d.Err
	}
	return d.Template, false, nil
}

// removeTemplate deletes every output of a template whose file is gone and
// forgets the template.
func (c *Controller) removeTemplate(id string) []string {
	rows, err := c.d.Ledger.ByTemplate(id)
	if err != nil {
		c.logger.Warn("generator: ledger lookup failed", slog.String("template", id), slog.String("error", err.Error()))
	}
	var removed []string
	for _, row := range rows {
		if c.deleteOutput(row.Path) {
			removed = append(removed, row.Path)
		}
	}
	if err := c.d.Ledger.DeleteTemplate(id); err != nil {
		c.logger.Warn("generator: ledger delete failed", slog.String("template", id), slog.String("error", err.Error()))
	}
	c.d.Registry.Remove(id)
	for _, fn := range c.onRemoved {
		fn(id)
	}
	c.logger.Info("generator: template removed", slog.String("template", id), slog.Int("outputs", len(removed)))
	return removed
}

// render executes tmpl against every bound item, writes changed outputs and
// deletes outputs the template no longer produces.
func (c *Controller) render(ctx context.Context, tmpl *templates.Template, res *model.GenerationResult) {
	id := tmpl.Identity

	files, err := c.d.Project.Files()
	if err != nil {
		res.Fail(apperr.Render(id, fmt.Errorf("enumerate project: %w", err)))
		return
	}

	produced := map[string]string{} // output path -> source item
	keep := map[string]bool{}       // outputs whose regeneration failed
	aborted := false

	for _, f := range files {
		if !tmpl.Matches(f.Path) {
			continue
		}
		for _, item := range tmpl.Items(f) {
			if err := expired(ctx); err != nil {
				res.Fail(apperr.Render(id, fmt.Errorf("run deadline reached before %s: %w", item.Name, err)))
				aborted = true
				break
			}

			out, err := tmpl.OutputPath(item)
			if err != nil {
				res.Fail(apperr.Render(id, fmt.Errorf("%s: %w", item.Name, err)))
				continue
			}
			if prev, dup := produced[out]; dup {
				res.Fail(apperr.Render(id, fmt.Errorf("output %s produced by both %s and %s", out, prev, item.Source())))
				continue
			}
			if owner := c.foreignOwner(id, out); owner != "" {
				res.Fail(apperr.Render(id, fmt.Errorf("output %s already produced by %s", out, owner)))
				continue
			}
			produced[out] = item.Source()

			content, err := tmpl.Render(item)
			if err != nil {
				res.Fail(apperr.Render(id, fmt.Errorf("%s: %w", item.Name, err)))
				keep[out] = true
				continue
			}

			written, err := c.write(out, content)
			if err != nil {
				res.Fail(err)
				keep[out] = true
				continue
			}
			if written {
				res.Written = append(res.Written, out)
			} else {
				res.Unchanged = append(res.Unchanged, out)
			}
			if err := c.d.Ledger.Record(ledger.Row{
				Path:     out,
				Template: id,
				Source:   item.Source(),
				Checksum: checksum.Sum(content),
			}); err != nil {
				c.logger.Warn("generator: ledger record failed", slog.String("output", out), slog.String("error", err.Error()))
			}
		}
		if aborted {
			break
		}
	}
	if aborted {
		return
	}

	prev, err := c.d.Ledger.ByTemplate(id)
	if err != nil {
		c.logger.Warn("generator: ledger lookup failed", slog.String("template", id), slog.String("error", err.Error()))
		return
	}
	for _, row := range prev {
		if _, ok := produced[row.Path]; ok || keep[row.Path] {
			continue
		}
		if c.deleteOutput(row.Path) {
			res.Removed = append(res.Removed, row.Path)
		}
		if err := c.d.Ledger.Delete(row.Path); err != nil {
			c.logger.Warn("generator: ledger delete failed", slog.String("output", row.Path), slog.String("error", err.Error()))
		}
	}
}

// expired reports a cancelled context or one whose deadline has passed but
// whose timer has not fired yet.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// foreignOwner returns the template, other than id, that still owns out.
func (c *Controller) foreignOwner(id, out string) string {
	owner, ok, err := c.d.Ledger.Owner(out)
	if err != nil || !ok || owner == id {
		return ""
	}
	if _, known := c.d.Registry.Lookup(owner); !known {
		return ""
	}
	return owner
}

// write persists content if it differs from the current file, retrying once.
func (c *Controller) write(out string, content []byte) (bool, error) {
	written, err := c.d.Outputs.WriteIfChanged(out, content)
	if err == nil {
		return written, nil
	}
	c.logger.Warn("generator: write failed, retrying", slog.String("output", out), slog.String("error", err.Error()))
	written, err = c.d.Outputs.WriteIfChanged(out, content)
	if err != nil {
		return false, apperr.OutputWrite(out, err)
	}
	return written, nil
}

// deleteOutput removes a generated file. It reports whether the file existed.
func (c *Controller) deleteOutput(out string) bool {
	err := c.d.Outputs.Delete(out)
	if err == nil {
		return true
	}
	if !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("generator: delete output failed", slog.String("output", out), slog.String("error", err.Error()))
	}
	return false
}

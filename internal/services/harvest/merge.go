package harvest

import (
	"context"
	"fmt"

	"eauharvest/internal/export"
	"eauharvest/internal/playbook"
)

// ActionMergeYearly is the post-processing action served by MergeYearly
const ActionMergeYearly = "merge_yearly"

// MergeYearly concatenates the per-year groundwater exports of each parameter
// into <stem>_<code>_all. Input names the groundwater output the yearly files
// were derived from; without it, and without code_parametre, both are taken
// from the first groundwater task of the playbook.
func (s *Service) MergeYearly(ctx context.Context, task playbook.Task) (map[string]any, error) {
	input, codes := task.Input, task.Params.CodeParametre
	if input == "" || len(codes) == 0 {
		if gw, ok := s.groundwaterTask(); ok {
			if input == "" {
				input = s.outputPath(gw)
			}
			if len(codes) == 0 {
				codes = gw.Params.CodeParametre
			}
		}
	}
	if input == "" || len(codes) == 0 {
		return nil, fmt.Errorf("%w: %s needs input and code_parametre", ErrMissingParam, task.ID)
	}

	logger := taskLogger(task)
	ext := s.opts.Exporter.Ext()
	total := 0
	var files []string
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pattern := withSuffix(input, ext, code, "*")
		dest := withSuffix(input, ext, code, "all")
		n, err := export.Merge(pattern, dest)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", code, err)
		}
		if n == 0 {
			logger.Warn().Str("parameter", code).Str("pattern", pattern).Msg("Nothing to merge")
			continue
		}
		files = append(files, dest)
		total += n
	}

	return s.finish(task.ID, map[string]any{"records": total, "files": files}), nil
}

func (s *Service) groundwaterTask() (playbook.Task, bool) {
	if s.opts.Playbook == nil {
		return playbook.Task{}, false
	}
	for _, t := range s.opts.Playbook.Tasks {
		if t.ResolvedKind() == playbook.KindGroundwater {
			return t, true
		}
	}
	return playbook.Task{}, false
}

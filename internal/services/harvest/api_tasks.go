package harvest

import (
	"context"
	"fmt"
	"strconv"

	"eauharvest/internal/daterange"
	"eauharvest/internal/hubeau"
	"eauharvest/internal/playbook"
)

// QualityRivers harvests river physico-chemistry analyses for every
// parameter code over every period, split by the task's iteration mode.
func (s *Service) QualityRivers(ctx context.Context, task playbook.Task) (map[string]any, error) {
	if len(task.Params.CodeParametre) == 0 {
		return nil, fmt.Errorf("%w: %s needs code_parametre", ErrMissingParam, task.ID)
	}
	ranges, mode, err := plan(task)
	if err != nil {
		return nil, err
	}
	logger := taskLogger(task)
	qr := hubeau.NewQualityRivers(s.paginator(task.ID, s.opts.Endpoints.QualityRivers))

	var (
		all     []map[string]any
		resumed bool
	)
	for _, code := range task.Params.CodeParametre {
		for _, r := range ranges {
			logger.Info().Str("parameter", code).Str("period", r.String()).Str("mode", string(mode)).Msg("Fetching analyses")

			res, err := qr.AnalysesPC(ctx, hubeau.AnalysePCQuery{
				CodeParametre:      code,
				DateMinPrelevement: daterange.Format(r.Start),
				DateMaxPrelevement: daterange.Format(r.End),
			})
			if err != nil {
				logger.Error().Str("parameter", code).Str("period", r.String()).Err(err).Msg("Failed to fetch analyses")
				return nil, fmt.Errorf("analyses %s %s: %w", code, r, err)
			}
			all = append(all, res.Records...)
			resumed = resumed || res.Skipped > 0
		}
	}

	output := s.outputPath(task)
	if _, err := s.write(all, output, resumed); err != nil {
		return nil, err
	}
	return s.finish(task.ID, map[string]any{"records": len(all), "output": output}), nil
}

// Hydrometry harvests elaborated observations per grandeur (and per site or
// station when listed), or real-time observations per station when the task
// sets endpoint observations_tr.
func (s *Service) Hydrometry(ctx context.Context, task playbook.Task) (map[string]any, error) {
	logger := taskLogger(task)
	h := hubeau.NewHydrometry(s.paginator(task.ID, s.opts.Endpoints.Hydrometry))

	var (
		all     []map[string]any
		resumed bool
	)

	if task.Params.Endpoint == "observations_tr" {
		if len(task.Params.CodeStation) == 0 {
			return nil, fmt.Errorf("%w: %s needs code_station", ErrMissingParam, task.ID)
		}
		for _, station := range task.Params.CodeStation {
			logger.Info().Str("station", station).Msg("Fetching real-time observations")
			res, err := h.ObservationsTR(ctx, hubeau.ObservationsTRQuery{CodeStation: station})
			if err != nil {
				logger.Error().Str("station", station).Err(err).Msg("Failed to fetch observations")
				return nil, fmt.Errorf("observations_tr %s: %w", station, err)
			}
			all = append(all, res.Records...)
			resumed = resumed || res.Skipped > 0
		}
	} else {
		if len(task.Params.GrandeurHydro) == 0 {
			return nil, fmt.Errorf("%w: %s needs grandeur_hydro", ErrMissingParam, task.ID)
		}
		ranges, mode, err := plan(task)
		if err != nil {
			return nil, err
		}

		sites := task.Params.CodeSite
		if len(sites) == 0 {
			sites = []string{""}
		}
		stations := task.Params.CodeStation
		if len(stations) == 0 {
			stations = []string{""}
		}

		for _, grandeur := range task.Params.GrandeurHydro {
			for _, site := range sites {
				for _, station := range stations {
					for _, r := range ranges {
						logger.Info().
							Str("grandeur", grandeur).
							Str("site", site).
							Str("station", station).
							Str("period", r.String()).
							Str("mode", string(mode)).
							Msg("Fetching observations")

						res, err := h.ObsElab(ctx, hubeau.ObsElabQuery{
							CodeSite:      site,
							CodeStation:   station,
							GrandeurHydro: grandeur,
							DateDebutObs:  daterange.Format(r.Start),
							DateFinObs:    daterange.Format(r.End),
						})
						if err != nil {
							logger.Error().Str("grandeur", grandeur).Str("period", r.String()).Err(err).Msg("Failed to fetch observations")
							return nil, fmt.Errorf("obs_elab %s %s: %w", grandeur, r, err)
						}
						all = append(all, res.Records...)
						resumed = resumed || res.Skipped > 0
					}
				}
			}
		}
	}

	output := s.outputPath(task)
	if _, err := s.write(all, output, resumed); err != nil {
		return nil, err
	}
	return s.finish(task.ID, map[string]any{"records": len(all), "output": output}), nil
}

// Groundwater harvests groundwater analyses year by year and writes one file
// per parameter and year: <stem>_<code>_<year>[_<region>]<ext>. Inside a year
// the iteration mode decides the query span (daily by default here, yearly
// when a region filter keeps results small).
func (s *Service) Groundwater(ctx context.Context, task playbook.Task) (map[string]any, error) {
	if len(task.Params.CodeParametre) == 0 {
		return nil, fmt.Errorf("%w: %s needs code_parametre", ErrMissingParam, task.ID)
	}
	if _, _, err := plan(task); err != nil {
		return nil, err
	}
	mode, _ := daterange.ModeFromParams(task.Params.IterationParams)
	if task.Params.IterationMode == "" && task.Params.NomRegion == "" {
		mode = daterange.Daily
	}

	logger := taskLogger(task)
	region := task.Params.NomRegion
	gw := hubeau.NewGroundwater(s.paginator(task.ID, s.opts.Endpoints.Groundwater))
	output := s.outputPath(task)

	total := 0
	var files []string
	for _, code := range task.Params.CodeParametre {
		for _, period := range task.Params.Periods {
			start, end, _ := daterange.ParsePeriod(period)
			years, err := daterange.Partition(start, end, daterange.Yearly)
			if err != nil {
				return nil, err
			}

			for _, year := range years {
				spans, err := daterange.Partition(year.Start, year.End, mode)
				if err != nil {
					return nil, err
				}
				yearLabel := strconv.Itoa(year.Start.Year())
				logger.Info().
					Str("parameter", code).
					Str("year", yearLabel).
					Str("region", region).
					Str("mode", string(mode)).
					Int("queries", len(spans)).
					Msg("Processing year")

				var (
					records []map[string]any
					resumed bool
				)
				for _, r := range spans {
					res, err := gw.Analyses(ctx, hubeau.GroundwaterAnalysesQuery{
						CodeParametre:        code,
						DateDebutPrelevement: daterange.Format(r.Start),
						DateFinPrelevement:   daterange.Format(r.End),
						NomRegion:            region,
					})
					if err != nil {
						logger.Error().Str("parameter", code).Str("period", r.String()).Err(err).Msg("Failed to fetch groundwater analyses")
						return nil, fmt.Errorf("analyses %s %s: %w", code, r, err)
					}
					records = append(records, res.Records...)
					resumed = resumed || res.Skipped > 0
				}

				if len(records) == 0 {
					continue
				}
				parts := []string{code, yearLabel}
				if region != "" {
					parts = append(parts, region)
				}
				path := withSuffix(output, s.opts.Exporter.Ext(), parts...)
				if _, err := s.write(records, path, resumed); err != nil {
					return nil, err
				}
				files = append(files, path)
				total += len(records)

				logger.Info().Str("parameter", code).Str("year", yearLabel).Int("records", len(records)).Str("output", path).Msg("Yearly data saved")
			}
		}
	}

	meta := map[string]any{"records": total, "files": files, "mode": string(mode)}
	if region != "" {
		meta["region"] = region
	}
	return s.finish(task.ID, meta), nil
}

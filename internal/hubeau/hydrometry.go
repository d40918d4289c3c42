package hubeau

import (
	"context"

	"eauharvest/internal/api"
)

type SitesQuery struct {
	CodeCommuneSite string
	CodeBassin      string
	BBox            string
}

func (q SitesQuery) Params() map[string]string {
	return params(
		"code_commune_site", q.CodeCommuneSite,
		"code_bassin", q.CodeBassin,
		"bbox", q.BBox,
	)
}

type StationsQuery struct {
	CodeCommuneStation string
	CodeSite           string
	BBox               string
}

func (q StationsQuery) Params() map[string]string {
	return params(
		"code_commune_station", q.CodeCommuneStation,
		"code_site", q.CodeSite,
		"bbox", q.BBox,
	)
}

// ObservationsTRQuery selects real-time observations (about one month of history)
type ObservationsTRQuery struct {
	CodeStation  string // required
	DateDebutObs string
	DateFinObs   string
}

func (q ObservationsTRQuery) Params() map[string]string {
	return params(
		"code_station", q.CodeStation,
		"date_debut_obs", q.DateDebutObs,
		"date_fin_obs", q.DateFinObs,
	)
}

// ObsElabQuery selects elaborated observations over the full history
type ObsElabQuery struct {
	CodeStation   string
	CodeSite      string
	GrandeurHydro string // QmM, QmnJ, ...
	DateDebutObs  string
	DateFinObs    string
}

func (q ObsElabQuery) Params() map[string]string {
	return params(
		"code_station", q.CodeStation,
		"code_site", q.CodeSite,
		"grandeur_hydro", q.GrandeurHydro,
		"date_debut_obs", q.DateDebutObs,
		"date_fin_obs", q.DateFinObs,
	)
}

// Hydrometry is the Hydrométrie v2 API
type Hydrometry struct {
	pager Pager
}

func NewHydrometry(p Pager) *Hydrometry {
	return &Hydrometry{pager: p}
}

func (h *Hydrometry) Sites(ctx context.Context, q SitesQuery) (*api.Result, error) {
	return h.pager.Pages(ctx, api.PageQuery{Endpoint: "/referentiel/sites", Params: q.Params()})
}

func (h *Hydrometry) Stations(ctx context.Context, q StationsQuery) (*api.Result, error) {
	return h.pager.Pages(ctx, api.PageQuery{Endpoint: "/referentiel/stations", Params: q.Params()})
}

// ObservationsTR uses cursor pagination
func (h *Hydrometry) ObservationsTR(ctx context.Context, q ObservationsTRQuery) (*api.Result, error) {
	if err := required("code_station", q.CodeStation); err != nil {
		return nil, err
	}
	return h.pager.Cursor(ctx, api.CursorQuery{Endpoint: "/observations_tr", Params: q.Params()})
}

func (h *Hydrometry) ObsElab(ctx context.Context, q ObsElabQuery) (*api.Result, error) {
	return h.pager.Pages(ctx, api.PageQuery{Endpoint: "/obs_elab", Params: q.Params()})
}

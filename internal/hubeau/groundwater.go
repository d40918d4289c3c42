package hubeau

import (
	"context"

	"eauharvest/internal/api"
)

type GroundwaterStationsQuery struct {
	BssID       string
	CodeCommune string
	BBox        string
}

func (q GroundwaterStationsQuery) Params() map[string]string {
	return params(
		"bss_id", q.BssID,
		"code_commune", q.CodeCommune,
		"bbox", q.BBox,
	)
}

type GroundwaterAnalysesQuery struct {
	BssID                string
	CodeCommune          string
	CodeParametre        string
	DateDebutPrelevement string
	DateFinPrelevement   string
	NomRegion            string // region filter, e.g. Bretagne
}

func (q GroundwaterAnalysesQuery) Params() map[string]string {
	return params(
		"bss_id", q.BssID,
		"code_commune", q.CodeCommune,
		"code_parametre", q.CodeParametre,
		"date_debut_prelevement", q.DateDebutPrelevement,
		"date_fin_prelevement", q.DateFinPrelevement,
		"nom_region", q.NomRegion,
	)
}

// Groundwater is the Qualité Nappes v1 API
type Groundwater struct {
	pager Pager
}

func NewGroundwater(p Pager) *Groundwater {
	return &Groundwater{pager: p}
}

func (g *Groundwater) Stations(ctx context.Context, q GroundwaterStationsQuery) (*api.Result, error) {
	return g.pager.Pages(ctx, api.PageQuery{Endpoint: "/stations", Params: q.Params()})
}

func (g *Groundwater) Analyses(ctx context.Context, q GroundwaterAnalysesQuery) (*api.Result, error) {
	return g.pager.Pages(ctx, api.PageQuery{Endpoint: "/analyses", Params: q.Params()})
}

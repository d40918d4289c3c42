package hubeau

import (
	"context"

	"eauharvest/internal/api"
)

type StationPCQuery struct {
	CodeCommune  string
	BBox         string // lon_min,lat_min,lon_max,lat_max
	CodeMasseEau string
}

func (q StationPCQuery) Params() map[string]string {
	return params(
		"code_commune", q.CodeCommune,
		"bbox", q.BBox,
		"code_masse_eau", q.CodeMasseEau,
	)
}

type OperationPCQuery struct {
	CodeStation          string // required
	DateDebutPrelevement string
	DateFinPrelevement   string
}

func (q OperationPCQuery) Params() map[string]string {
	return params(
		"code_station", q.CodeStation,
		"date_debut_prelevement", q.DateDebutPrelevement,
		"date_fin_prelevement", q.DateFinPrelevement,
	)
}

type ConditionEnvQuery struct {
	CodeOperation string // required
}

func (q ConditionEnvQuery) Params() map[string]string {
	return params("code_operation", q.CodeOperation)
}

type AnalysePCQuery struct {
	CodeParametre      string // e.g. 1340 for nitrates
	LibelleParametre   string
	CodeStation        string
	CodeCommune        string
	DateMinPrelevement string
	DateMaxPrelevement string
	Fields             string // comma separated
}

func (q AnalysePCQuery) Params() map[string]string {
	return params(
		"code_parametre", q.CodeParametre,
		"libelle_parametre", q.LibelleParametre,
		"code_station", q.CodeStation,
		"code_commune", q.CodeCommune,
		"date_min_prelevement", q.DateMinPrelevement,
		"date_max_prelevement", q.DateMaxPrelevement,
		"fields", q.Fields,
	)
}

// QualityRivers is the Qualité Rivières v2 API (physico-chemistry of rivers)
type QualityRivers struct {
	pager Pager
}

func NewQualityRivers(p Pager) *QualityRivers {
	return &QualityRivers{pager: p}
}

func (r *QualityRivers) StationsPC(ctx context.Context, q StationPCQuery) (*api.Result, error) {
	return r.pager.Pages(ctx, api.PageQuery{Endpoint: "/station_pc", Params: q.Params()})
}

func (r *QualityRivers) OperationsPC(ctx context.Context, q OperationPCQuery) (*api.Result, error) {
	if err := required("code_station", q.CodeStation); err != nil {
		return nil, err
	}
	return r.pager.Pages(ctx, api.PageQuery{Endpoint: "/operation_pc", Params: q.Params()})
}

func (r *QualityRivers) ConditionsEnvironnementales(ctx context.Context, q ConditionEnvQuery) (*api.Result, error) {
	if err := required("code_operation", q.CodeOperation); err != nil {
		return nil, err
	}
	return r.pager.Pages(ctx, api.PageQuery{Endpoint: "/condition_environnementale_pc", Params: q.Params()})
}

func (r *QualityRivers) AnalysesPC(ctx context.Context, q AnalysePCQuery) (*api.Result, error) {
	return r.pager.Pages(ctx, api.PageQuery{Endpoint: "/analyse_pc", Params: q.Params()})
}

// Package hubeau holds typed queries for the Hub'Eau water data APIs.
//
// Each query struct lists the optional filters an endpoint accepts; empty
// fields are left out of the request and out of the ledger key.
package hubeau

import (
	"context"
	"errors"
	"fmt"

	"eauharvest/internal/api"
)

const (
	QualityRiversURL = "https://hubeau.eaufrance.fr/api/v2/qualite_rivieres"
	HydrometryURL    = "https://hubeau.eaufrance.fr/api/v2/hydrometrie"
	GroundwaterURL   = "https://hubeau.eaufrance.fr/api/v1/qualite_nappes"
)

var ErrMissingParam = errors.New("required query parameter is missing")

// Pager drains one endpoint; *api.Paginator implements it
type Pager interface {
	Pages(ctx context.Context, q api.PageQuery) (*api.Result, error)
	Cursor(ctx context.Context, q api.CursorQuery) (*api.Result, error)
}

// params builds a query map from name/value pairs, dropping empty values
func params(pairs ...string) map[string]string {
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			out[pairs[i]] = pairs[i+1]
		}
	}
	return out
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingParam, name)
	}
	return nil
}

package harvest

import (
	"errors"
	"time"

	"eauharvest/internal/api"
	"eauharvest/internal/export"
	"eauharvest/internal/hubeau"
	"eauharvest/internal/playbook"
	"eauharvest/internal/ratelimit"
	"eauharvest/internal/state"
)

var (
	ErrMissingParam   = errors.New("task parameter is missing")
	ErrNoDownloadLink = errors.New("no download link found")
)

// DataGouvAPI is the open data portal API used to resolve dataset pages
const DataGouvAPI = "https://www.data.gouv.fr/api/1"

// Endpoints are the upstream roots. Tests point them at local servers.
type Endpoints struct {
	QualityRivers string
	Hydrometry    string
	Groundwater   string
	DataGouv      string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		QualityRivers: hubeau.QualityRiversURL,
		Hydrometry:    hubeau.HydrometryURL,
		Groundwater:   hubeau.GroundwaterURL,
		DataGouv:      DataGouvAPI,
	}
}

// Options wires a Service. Zero values fall back to the package defaults of
// the component they configure.
type Options struct {
	Ledger    *state.Store
	Limiter   *ratelimit.Limiter
	Metrics   *api.Recorder
	Exporter  export.Exporter
	Playbook  *playbook.Playbook
	Endpoints Endpoints

	UserAgent string
	Timeout   time.Duration
	Retry     api.RetryPolicy
	PageSize  int
	MaxDepth  int
}

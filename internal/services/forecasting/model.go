package forecasting

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"FareCast/internal/domain/models"
	"FareCast/internal/domain/service"
	"FareCast/internal/services/features"
	"FareCast/pkg/util"
)

// ArtifactFormat tags the serialized model layout.
const ArtifactFormat = "farecast.logols.v2"

var ErrInvalidArtifact = errors.New("invalid model artifact")

// Artifact is the serialized form of a fitted log-price model over departure
// days. Coef[0] is the intercept, Coef[i+1] belongs to Features.Columns[i].
// MinLead and MaxLead bound the lead times seen in training.
type Artifact struct {
	Format       string        `json:"format"`
	Features     features.Spec `json:"features"`
	Coef         []float64     `json:"coef"`
	Sigma        float64       `json:"sigma"`
	Z            float64       `json:"z"`
	HorizonScale float64       `json:"horizon_scale_days"`
	LastObserved time.Time     `json:"last_observed"`
	MinLead      float64       `json:"min_lead_days"`
	MaxLead      float64       `json:"max_lead_days"`
}

// Encode serializes the artifact.
func (a Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

func (a Artifact) validate() error {
	if a.Format != ArtifactFormat {
		return fmt.Errorf("%w: format %q", ErrInvalidArtifact, a.Format)
	}
	if len(a.Coef) != len(a.Features.Columns)+1 {
		return fmt.Errorf("%w: %d coefficients for %d columns", ErrInvalidArtifact, len(a.Coef), len(a.Features.Columns))
	}
	for _, col := range a.Features.Columns {
		if !features.Known(col) {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidArtifact, col)
		}
	}
	for _, c := range a.Coef {
		if !finite(c) {
			return fmt.Errorf("%w: non-finite coefficient", ErrInvalidArtifact)
		}
	}
	if !finite(a.Sigma) || a.Sigma <= 0 || a.HorizonScale <= 0 || a.Z < 0 {
		return fmt.Errorf("%w: bad uncertainty parameters", ErrInvalidArtifact)
	}
	if !finite(a.MinLead) || !finite(a.MaxLead) || a.MaxLead < a.MinLead {
		return fmt.Errorf("%w: bad lead range", ErrInvalidArtifact)
	}
	if a.LastObserved.IsZero() {
		return fmt.Errorf("%w: missing last observation", ErrInvalidArtifact)
	}
	return nil
}

// Model is a decoded artifact ready for prediction. Immutable and safe for
// concurrent use.
type Model struct {
	art Artifact
	ext *features.Extractor
}

var _ service.PriceModel = (*Model)(nil)

// Predict estimates the fare for a flight departing on the given day as
// quoted at asOf. The lead is the time left until departure, held inside the
// range seen in training. The interval widens with distance from the last
// observation the model saw.
func (m *Model) Predict(departure, asOf time.Time) models.ForecastPoint {
	day := util.DayStart(departure)
	lead := day.Sub(asOf).Hours() / 24
	lead = math.Min(math.Max(lead, m.art.MinLead), m.art.MaxLead)

	row := m.ext.Row(m.art.Features, day, lead)
	mu := m.art.Coef[0]
	for i, v := range row {
		mu += m.art.Coef[i+1] * v
	}

	daysAhead := math.Max(0, day.Sub(m.art.LastObserved).Hours()/24)
	width := m.art.Z * m.art.Sigma * math.Sqrt(1+daysAhead/m.art.HorizonScale)

	return models.ForecastPoint{
		Date:          day,
		PointEstimate: round2(math.Exp(mu)),
		LowerBound:    round2(math.Exp(mu - width)),
		UpperBound:    round2(math.Exp(mu + width)),
	}
}

// Artifact returns a copy of the underlying parameters.
func (m *Model) Artifact() Artifact {
	a := m.art
	a.Coef = append([]float64(nil), m.art.Coef...)
	a.Features.Columns = append([]string(nil), m.art.Features.Columns...)
	return a
}

// Decoder turns registry artifacts into models.
type Decoder struct {
	ext *features.Extractor
}

var _ service.ModelDecoder = (*Decoder)(nil)

func NewDecoder(ext *features.Extractor) *Decoder {
	if ext == nil {
		ext = features.NewExtractor(nil)
	}
	return &Decoder{ext: ext}
}

func (d *Decoder) Decode(artifact []byte) (service.PriceModel, error) {
	return d.DecodeModel(artifact)
}

// DecodeModel is Decode returning the concrete type.
func (d *Decoder) DecodeModel(artifact []byte) (*Model, error) {
	if len(artifact) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidArtifact)
	}
	var a Artifact
	if err := json.Unmarshal(artifact, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &Model{art: a, ext: d.ext}, nil
}

package predict

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/alerta-link/alertalink/internal/feature"
)

// ErrModelUnavailable is returned when the supervised model could not be
// loaded or failed its integrity check. The service keeps running on the
// heuristic predictor.
var ErrModelUnavailable = errors.New("model unavailable")

// Artifact is the serialized supervised pipeline: a standardizer followed by
// a logistic regression, plus the ordered feature-name list it was trained
// with.
type Artifact struct {
	Version      string   `json:"version"`
	FeatureNames []string `json:"feature_names"`
	Scaler       struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"scaler"`
	LogReg struct {
		Coef      []float64 `json:"coef"`
		Intercept float64   `json:"intercept"`
	} `json:"logreg"`
}

// MLPredictor serves calibrated malicious probabilities from a verified
// artifact. The artifact pointer is swapped atomically on reload, so
// in-flight predictions always see a consistent pipeline.
type MLPredictor struct {
	path          string
	authorizedSHA string
	log           zerolog.Logger

	artifact atomic.Pointer[Artifact]
}

// NewMLPredictor prepares a predictor for the artifact at path. The
// predictor stays Unavailable until Load succeeds.
func NewMLPredictor(path, authorizedSHA string, log zerolog.Logger) *MLPredictor {
	return &MLPredictor{
		path:          path,
		authorizedSHA: strings.ToLower(strings.TrimSpace(authorizedSHA)),
		log:           log,
	}
}

// Load reads the artifact, verifies its SHA-256 against the authorized hash
// before parsing a single byte of it, validates the feature-name list, and
// swaps it in. On any failure the previous artifact (if any) is kept and the
// error is returned.
func (p *MLPredictor) Load() error {
	if p.path == "" {
		return fmt.Errorf("%w: no model path configured", ErrModelUnavailable)
	}
	b, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("%w: read artifact: %v", ErrModelUnavailable, err)
	}
	sum := sha256.Sum256(b)
	got := hex.EncodeToString(sum[:])
	if p.authorizedSHA == "" || got != p.authorizedSHA {
		return fmt.Errorf("%w: artifact hash %s does not match authorized hash", ErrModelUnavailable, got)
	}

	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("%w: parse artifact: %v", ErrModelUnavailable, err)
	}
	want := feature.Names()
	if len(a.FeatureNames) != len(want) {
		return fmt.Errorf("%w: artifact has %d features, expected %d", ErrModelUnavailable, len(a.FeatureNames), len(want))
	}
	for i, name := range want {
		if a.FeatureNames[i] != name {
			return fmt.Errorf("%w: feature %d is %q, expected %q", ErrModelUnavailable, i, a.FeatureNames[i], name)
		}
	}
	if len(a.Scaler.Mean) != len(want) || len(a.Scaler.Scale) != len(want) || len(a.LogReg.Coef) != len(want) {
		return fmt.Errorf("%w: artifact parameter cardinality mismatch", ErrModelUnavailable)
	}

	p.artifact.Store(&a)
	p.log.Info().Str("version", a.Version).Str("sha256", got).Msg("model artifact loaded")
	return nil
}

// Available reports whether a verified artifact is loaded.
func (p *MLPredictor) Available() bool {
	return p.artifact.Load() != nil
}

// Version returns the loaded artifact version, "" when unavailable.
func (p *MLPredictor) Version() string {
	if a := p.artifact.Load(); a != nil {
		return a.Version
	}
	return ""
}

// Predict returns the malicious probability for a feature vector, or
// ok=false when no artifact is loaded.
func (p *MLPredictor) Predict(v feature.Vector) (float64, bool) {
	a := p.artifact.Load()
	if a == nil {
		return 0, false
	}
	z := a.LogReg.Intercept
	for i, x := range v.Values() {
		scale := a.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		z += a.LogReg.Coef[i] * (x - a.Scaler.Mean[i]) / scale
	}
	return 1 / (1 + math.Exp(-z)), true
}

// Score maps a probability to the [0,100] scale.
func Score(p float64) int {
	return Clamp(int(math.Round(100 * p)))
}

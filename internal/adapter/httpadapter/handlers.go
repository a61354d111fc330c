package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type regionBody struct {
	Name  string   `json:"name" validate:"max=128"`
	North *float64 `json:"north" validate:"required,gte=-90,lte=90"`
	South *float64 `json:"south" validate:"required,gte=-90,lte=90"`
	East  *float64 `json:"east" validate:"required,gte=-180,lte=180"`
	West  *float64 `json:"west" validate:"required,gte=-180,lte=180"`
}

type runBody struct {
	Region           regionBody `json:"region"`
	Start            string     `json:"start" validate:"required,datetime=2006-01-02"`
	End              string     `json:"end" validate:"required,datetime=2006-01-02"`
	QualityThreshold *float64   `json:"quality_threshold" validate:"omitempty,gte=0,lte=100"`
	HorizonMonths    *int       `json:"horizon_months" validate:"omitempty,min=1,max=60"`
}

func (b runBody) toRequest(defaults Defaults) (pipeline.Request, error) {
	region, err := domain.NewRegion(b.Region.Name, *b.Region.North, *b.Region.South, *b.Region.East, *b.Region.West)
	if err != nil {
		return pipeline.Request{}, err
	}
	dates, err := domain.ParseDateRange(b.Start, b.End)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Region:           region,
		Dates:            dates,
		QualityThreshold: defaults.QualityThreshold,
		Horizon:          defaults.HorizonMonths,
	}
	if b.QualityThreshold != nil {
		req.QualityThreshold = *b.QualityThreshold
	}
	if b.HorizonMonths != nil {
		req.Horizon = *b.HorizonMonths
	}
	return req, nil
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body runBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return
	}
	req, err := body.toRequest(s.defaults)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	handle, err := s.svc.Start(req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, handle)
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.RunStatus(fingerprintParam(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleListResults(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"fingerprints": s.svc.Fingerprints()})
}

func (s *Server) handleStatistic(w http.ResponseWriter, r *http.Request) {
	stat, err := s.svc.LatestStatistic(fingerprintParam(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, stat)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.svc.TimeSeries(fingerprintParam(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"points": series})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	horizon := s.defaults.HorizonMonths
	if v := r.URL.Query().Get("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: horizon must be an integer", domain.ErrConfig))
			return
		}
		horizon = n
	}
	f, err := s.svc.Forecast(fingerprintParam(r), horizon)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, f)
}

func fingerprintParam(r *http.Request) domain.Fingerprint {
	return domain.Fingerprint(strings.ToLower(chi.URLParam(r, "fingerprint")))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientHistory), errors.Is(err, domain.ErrModelFit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if status < http.StatusInternalServerError {
		body.Reason = domain.ReasonCode(err)
	}
	sharedobs.WriteJSON(w, status, body)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(msgs, "; "))
}

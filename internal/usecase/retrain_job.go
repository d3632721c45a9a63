package usecase

import (
	"context"
	"errors"
	"fmt"

	"FareCast/internal/domain/errs"
	applogger "FareCast/pkg/logger"
	"FareCast/pkg/queue"
)

// RetrainJobType is the queue message type for asynchronous retrains.
const RetrainJobType = "retrain"

// RetrainPayload is the queued retrain request.
type RetrainPayload struct {
	RouteID string `json:"route_id"`
}

// RetrainJob runs queued admin retrains.
type RetrainJob struct {
	retrainer *Retrainer
	log       *applogger.Logger
}

var _ queue.Job = (*RetrainJob)(nil)

func NewRetrainJob(r *Retrainer, l *applogger.Logger) *RetrainJob {
	if l == nil {
		l = applogger.NewNop()
	}
	return &RetrainJob{retrainer: r, log: l}
}

func (j *RetrainJob) Name() string { return "retrain-route" }

func (j *RetrainJob) Type() string { return RetrainJobType }

// Handle retrains the route. Domain outcomes are final; only infrastructure
// errors are returned for a queue retry.
func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		j.log.Error("retrain job payload", applogger.Error(err))
		return nil
	}
	if p.RouteID == "" {
		j.log.Error("retrain job without route")
		return nil
	}

	res, err := j.retrainer.Retrain(ctx, p.RouteID)
	if err != nil {
		if _, ok := errs.KindOf(err); ok || errors.Is(err, ErrRetrainInProgress) {
			j.log.Info("queued retrain finished without activation",
				applogger.Route(p.RouteID),
				applogger.String("reason", errs.ReasonOf(err)))
			return nil
		}
		return fmt.Errorf("retrain %s: %w", p.RouteID, err)
	}
	j.log.Info("queued retrain done",
		applogger.Route(p.RouteID),
		applogger.Int64("version_id", res.Version.VersionID),
		applogger.Bool("activated", res.Activated))
	return nil
}

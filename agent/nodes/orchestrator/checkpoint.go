package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
	statex "github.com/tanpawarit/voice-persona-agents/agent/state"
	metricsx "github.com/tanpawarit/voice-persona-agents/pkg/metrics"
)

type RecordReader interface {
	Get(sessionID string) (*domain.Record, error)
}

type RecordSaver interface {
	Save(ctx context.Context, rec *domain.Record) error
}

// Checkpoint saves the record when a tool reached a milestone this turn.
// A failed save is reported in the reply; the session carries on.
func Checkpoint(
	ctx context.Context,
	in *GraphState,
	records RecordReader,
	saver RecordSaver,
	metrics *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}
	if !in.Control.Checkpoint {
		return in, nil
	}
	if err := Flush(ctx, in.Session, records, saver, metrics); err != nil {
		in.Logger.Error().Err(err).Msg("checkpoint failed")
		in.CheckpointErr = err
	}
	return in, nil
}

// Flush writes the session's current record and clears the dirty flag on
// success.
func Flush(
	ctx context.Context,
	sess *statex.Session,
	records RecordReader,
	saver RecordSaver,
	metrics *metricsx.Recorder,
) error {
	rec, err := records.Get(sess.ID)
	if err != nil {
		return err
	}
	err = saver.Save(ctx, rec)
	metrics.Checkpoint(string(rec.Kind), err)
	if err != nil {
		return err
	}
	sess.Dirty = false
	return nil
}

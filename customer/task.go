package customer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TrialExpirer is the slice of Manager the sweep needs
type TrialExpirer interface {
	ExpireTrials(ctx context.Context, now time.Time) (int64, error)
}

type SweepTaskOptions struct {
	Expirer TrialExpirer
	Logger  *zap.Logger
}

// SweepTask transitions time-expired trial customers to expired. The
// underlying update is a single conditional bulk statement, so running the
// sweep again immediately is a no-op.
type SweepTask struct {
	SweepTaskOptions
}

func NewSweepTask(option SweepTaskOptions) (*SweepTask, error) {
	if option.Expirer == nil {
		return nil, fmt.Errorf("nil Expirer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &SweepTask{
		SweepTaskOptions: option,
	}, nil
}

// RunOnce performs a single sweep
func (t *SweepTask) RunOnce(ctx context.Context) error {
	expired, err := t.Expirer.ExpireTrials(ctx, time.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		t.Logger.Info("Expired trial customers",
			zap.Int64("Count", expired),
		)
	}
	return nil
}

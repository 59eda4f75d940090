package daybreak

import (
	"context"

	"github.com/jirwin/daybreak/pkg/bot"
)

type DayBreak interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Stop()
}

var _ DayBreak = (*bot.DayBreakBot)(nil)

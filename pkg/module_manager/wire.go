package module_manager

import (
	"github.com/google/wire"
	"github.com/jonboulle/clockwork"
)

func NewClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

var Wired = wire.NewSet(
	NewConfig,
	NewClock,
	New,
	wire.Bind(new(Manager), new(*ManagerImpl)),
)

package discord_manager

import "github.com/google/wire"

var Wired = wire.NewSet(
	NewConfig,
	New,
	wire.Bind(new(Manager), new(*ManagerImpl)),
)

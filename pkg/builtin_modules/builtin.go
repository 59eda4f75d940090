// Package builtin_modules lists every module the bot ships with.
package builtin_modules

import (
	"github.com/jirwin/daybreak/pkg/builtin_modules/core"
	"github.com/jirwin/daybreak/pkg/builtin_modules/exceptionhandler"
	"github.com/jirwin/daybreak/pkg/builtin_modules/hostutils"
	"github.com/jirwin/daybreak/pkg/builtin_modules/karma"
	"github.com/jirwin/daybreak/pkg/builtin_modules/memberships"
	"github.com/jirwin/daybreak/pkg/builtin_modules/tickets"
	"github.com/jirwin/daybreak/pkg/builtin_modules/twitchnotifs"
	"github.com/jirwin/daybreak/pkg/builtin_modules/utils"
	"github.com/jirwin/daybreak/pkg/builtin_modules/youtubenotifs"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

func Manifest() module_manager.Manifest {
	return module_manager.Manifest{
		core.Name:             core.Register,
		exceptionhandler.Name: exceptionhandler.Register,
		twitchnotifs.Name:     twitchnotifs.Register,
		youtubenotifs.Name:    youtubenotifs.Register,
		utils.Name:            utils.Register,
		tickets.Name:          tickets.Register,
		memberships.Name:      memberships.Register,
		hostutils.Name:        hostutils.Register,
		karma.Name:            karma.Register,
	}
}

// Package extensions holds optional arbor.Extension implementations: a
// zerolog-backed lifecycle logger and a dependency-graph debug renderer.
package extensions

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/arborfn/arbor"
)

// LoggingExtension logs boot, task, and dispose lifecycle events through a
// zerolog.Logger, the runtime's ambient logging library.
type LoggingExtension struct {
	arbor.BaseExtension
	log zerolog.Logger
}

// NewLoggingExtension builds a LoggingExtension writing through log.
func NewLoggingExtension(log zerolog.Logger) *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: arbor.BaseExtension{ExtName: "logging"},
		log:           log.With().Str("extension", "logging").Logger(),
	}
}

func (e *LoggingExtension) OnBootStart(ctx context.Context, root *arbor.Resource) {
	e.log.Info().Str("root", root.ID()).Msg("boot starting")
}

func (e *LoggingExtension) OnBootEnd(ctx context.Context, err error) {
	if err != nil {
		e.log.Error().Err(err).Msg("boot failed")
		return
	}
	e.log.Info().Msg("boot completed")
}

func (e *LoggingExtension) OnTaskStart(ctx context.Context, task *arbor.Task, input any) {
	e.log.Debug().Str("task", task.ID()).Msg("task starting")
}

func (e *LoggingExtension) OnTaskEnd(ctx context.Context, task *arbor.Task, result any, err error) {
	ev := e.log.Debug()
	if err != nil {
		ev = e.log.Error().Err(err)
	}
	ev.Str("task", task.ID()).Msg("task finished")
}

func (e *LoggingExtension) OnDisposeStart(ctx context.Context) {
	e.log.Info().Msg("dispose starting")
}

func (e *LoggingExtension) OnDisposeEnd(ctx context.Context, err error) {
	if err != nil {
		e.log.Error().Err(err).Msg("dispose failed")
		return
	}
	e.log.Info().Msg("dispose completed")
}

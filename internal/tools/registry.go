package tools

import (
	"context"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

type handlers struct {
	opts  Options
	allow *shellAllowlist
}

// Register installs a handler for every built-in kind.
func Register(reg *toolstream.Registry, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	allow, err := newShellAllowlist(opts.ShellAllow)
	if err != nil {
		return err
	}
	h := &handlers{opts: opts, allow: allow}

	for kind, fn := range map[toolstream.Kind]func(context.Context, *toolstream.Invocation) (toolstream.Outcome, error){
		toolstream.KindReadFiles:          h.readFiles,
		toolstream.KindWriteFile:          h.writeFile,
		toolstream.KindStrReplace:         h.strReplace,
		toolstream.KindRunTerminalCommand: h.runTerminalCommand,
		toolstream.KindCodeSearch:         h.codeSearch,
		toolstream.KindFindFiles:          h.findFiles,
		toolstream.KindWebSearch:          h.webSearch,
		toolstream.KindThinkDeeply:        h.thinkDeeply,
		toolstream.KindCreatePlan:         h.createPlan,
		toolstream.KindSetMessages:        h.setMessages,
		toolstream.KindEndTurn:            h.endTurn,
	} {
		reg.RegisterFunc(kind, fn)
	}
	return nil
}

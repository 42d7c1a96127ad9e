package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m1gwings/treedrawer/tree"

	"github.com/arborfn/arbor"
)

// GraphDebugExtension logs failures through a slog.Handler. A failed task
// run (any returned error, including a recovered panic) is logged together
// with the resource registration tree once Attach has supplied the Runtime;
// a failed boot is logged with its error only, without a tree.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewGraphDebugExtension(extensions.NewSilentHandler())
type GraphDebugExtension struct {
	arbor.BaseExtension
	logger *slog.Logger
	rt     *arbor.Runtime
}

// NewGraphDebugExtension creates a new graph debug extension.
func NewGraphDebugExtension(logHandler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		BaseExtension: arbor.BaseExtension{ExtName: "graph-debug"},
		logger:        slog.New(logHandler),
	}
}

// Attach lets the extension capture the Runtime once boot finishes, for
// Tree() access by later OnTaskEnd calls. Callers register it with
// arbor.WithExtensions before Boot, then call Attach on the result.
func (e *GraphDebugExtension) Attach(rt *arbor.Runtime) { e.rt = rt }

func (e *GraphDebugExtension) OnBootEnd(ctx context.Context, err error) {
	if err == nil {
		return
	}
	e.logger.Error("Boot Failed",
		"error", err.Error(),
	)
}

func (e *GraphDebugExtension) OnTaskEnd(ctx context.Context, task *arbor.Task, result any, err error) {
	if err == nil || e.rt == nil {
		return
	}
	graphOutput := e.formatTree()
	e.logger.Error("Task Failed",
		"task", task.ID(),
		"error", err.Error(),
		"dependency_tree", graphOutput,
	)
}

func (e *GraphDebugExtension) formatTree() string {
	root := e.rt.Tree()
	if root == nil {
		return "\n(empty - no resource tree)"
	}
	t := e.buildTree(root)
	if t == nil {
		return "\n(empty)"
	}
	return "\n" + t.String()
}

func (e *GraphDebugExtension) buildTree(node *arbor.TreeNode) *tree.Tree {
	label := fmt.Sprintf("%s(%s)", node.Kind, node.ID)
	t := tree.NewTree(tree.NodeString(label))
	for _, child := range node.Children {
		childTree := e.buildTree(child)
		if childTree != nil {
			e.addTreeAsChild(t, childTree)
		}
	}
	return t
}

// addTreeAsChild adds a tree as a child to another tree node.
func (e *GraphDebugExtension) addTreeAsChild(parent *tree.Tree, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		e.addTreeAsChild(newChild, grandchild)
	}
}

// SilentHandler is a slog.Handler that discards all log output. Useful for
// testing when log output isn't wanted.
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler.
func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool { return false }
func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error { return nil }
func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler             { return h }
func (h *SilentHandler) WithGroup(name string) slog.Handler                  { return h }

// HumanHandler is a slog.Handler that formats logs for human readability,
// with dedicated formatting for GraphDebugExtension's two message kinds.
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

// NewHumanHandler creates a new human-readable log handler.
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{writer: writer, level: level}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	switch record.Message {
	case "Boot Failed":
		return h.handleBootFailed(record)
	case "Task Failed":
		return h.handleTaskFailed(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleBootFailed(record slog.Record) error {
	var errorMsg string
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "error" {
			errorMsg = a.Value.String()
		}
		return true
	})

	return writeAll(h.writer,
		"\n", strings.Repeat("=", 70)+"\n",
		"[GraphDebug] Boot Failed\n", strings.Repeat("=", 70)+"\n",
		fmt.Sprintf("\nError: %s\n", errorMsg),
		strings.Repeat("=", 70)+"\n\n",
	)
}

func (h *HumanHandler) handleTaskFailed(record slog.Record) error {
	var task, errorMsg, tree string
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "task":
			task = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "dependency_tree":
			tree = a.Value.String()
		}
		return true
	})

	return writeAll(h.writer,
		"\n", strings.Repeat("=", 70)+"\n",
		"[GraphDebug] Task Failed\n", strings.Repeat("=", 70)+"\n",
		fmt.Sprintf("\nTask: %s\n", task),
		fmt.Sprintf("Error: %s\n", errorMsg),
		fmt.Sprintf("\nResource Tree:%s\n", tree),
		strings.Repeat("=", 70)+"\n\n",
	)
}

func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := fmt.Fprint(w, p); err != nil {
			return err
		}
	}
	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *HumanHandler) WithGroup(name string) slog.Handler       { return h }

package tree

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	ltree "github.com/charmbracelet/lipgloss/tree"
)

var (
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	enumStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginRight(1)
)

// LinkMap renders the forest as nested link objects keyed by node id:
//
//	{"12": {"url": "...", "childrenUrl": {"14": {"url": "..."}}}}
//
// childrenUrl is omitted for leaves.
func LinkMap[T any](f Forest[T], url func(T) string) map[string]any {
	out := make(map[string]any, len(f))
	for _, branch := range f {
		entry := map[string]any{"url": url(branch.Node)}
		if len(branch.Children) > 0 {
			entry["childrenUrl"] = LinkMap(Forest[T](branch.Children), url)
		}
		out[strconv.FormatInt(branch.ID, 10)] = entry
	}
	return out
}

// Render draws the forest for a terminal. The node whose id equals highlight
// is emphasised; pass 0 to highlight nothing.
func Render[T any](f Forest[T], label func(T) string, highlight int64) string {
	if len(f) == 0 {
		return ""
	}
	root := ltree.New().
		Enumerator(ltree.RoundedEnumerator).
		EnumeratorStyle(enumStyle)
	for _, branch := range f {
		root.Child(renderBranch(branch, label, highlight))
	}
	return root.String()
}

func renderBranch[T any](branch *Branch[T], label func(T) string, highlight int64) any {
	text := label(branch.Node)
	if highlight != 0 && branch.ID == highlight {
		text = highlightStyle.Render(text)
	}
	if len(branch.Children) == 0 {
		return text
	}
	node := ltree.Root(text).
		Enumerator(ltree.RoundedEnumerator).
		EnumeratorStyle(enumStyle)
	for _, child := range branch.Children {
		node.Child(renderBranch(child, label, highlight))
	}
	return node
}

package worker

import "github.com/chicoryai/taskrunner/internal/graph"

// displayStatus derives the human-readable phase label spec.md §4.4.2
// asks the streaming loop to write while a task remains PROCESSING. An
// emission whose node name is not one of the known phases falls back to
// the generic label (spec.md §8's "unknown node name" boundary case).
func displayStatus(node graph.NodeKind) string {
	switch node {
	case graph.NodeQuestion:
		return "Understanding Question"
	case graph.NodeBreakdown:
		return "Breaking Down Task"
	case graph.NodeDataSummary:
		return "Summarizing Data"
	case graph.NodeDocuments:
		return "Gathering Context"
	case graph.NodeRelatedContext:
		return "Gathering Context"
	case graph.NodeGeneration:
		return "Generating Response"
	case graph.NodeAnswer:
		return "Generating Response"
	case graph.NodeError:
		return "Generating Response"
	default:
		return "Generating Response"
	}
}

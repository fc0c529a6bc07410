package graph

import (
	"github.com/buildforge/engine/digest"
)

// Lowerer turns one target node into its constituent actions. Per-language
// lowering is an external collaborator's concern (spec §6's language-handler
// interface); this package only requires the narrow contract below so the
// default lowering can be swapped per language tag without the graph package
// depending on any handler package.
type Lowerer interface {
	Lower(n *Node, srcDigests []digest.Digest) ([]*Action, error)
}

// DefaultLowerer implements the illustrative §4.4 example: a library or
// executable target becomes one Compile action per source file plus one
// trailing Link action over the same sources; a test target ends with one
// ActionTest action instead, and a custom target with one ActionCustom.
// Real per-language nuance belongs to the external handler — this exists so
// the engine is exercisable without one.
type DefaultLowerer struct{}

func (DefaultLowerer) Lower(n *Node, srcDigests []digest.Digest) ([]*Action, error) {
	t := n.Target
	actions := make([]*Action, 0, len(t.Sources)+1)
	compiledInputs := make([]digest.Digest, 0, len(t.Sources))

	for i, src := range t.Sources {
		in := srcDigests[i]
		compiledInputs = append(compiledInputs, in)
		actions = append(actions, &Action{
			ID: ActionID{
				Target:   t.Label,
				Type:     Compile,
				SubID:    src,
				InputDig: in,
			},
			Command:    []string{"compile", src},
			Env:        t.Env,
			Inputs:     []digest.Digest{in},
			Outputs:    []string{src + ".o"},
			Priority:   defaultPriority(t.Type),
			MaxRetries: 3,
		})
	}

	finalType := Link
	if t.Type == Test {
		finalType = ActionTest
	} else if t.Type == Custom {
		finalType = ActionCustom
	}

	aggInput := digest.HashDigests(digest.SortedDigests(compiledInputs)...)
	actions = append(actions, &Action{
		ID: ActionID{
			Target:   t.Label,
			Type:     finalType,
			SubID:    "",
			InputDig: aggInput,
		},
		Command:    []string{finalType.String(), string(t.Label)},
		Env:        t.Env,
		Inputs:     compiledInputs,
		Outputs:    []string{outputPath(t)},
		Priority:   defaultPriority(t.Type),
		MaxRetries: 3,
	})

	return actions, nil
}

func outputPath(t *Target) string {
	if t.OutputPath != "" {
		return t.OutputPath
	}
	return string(t.Label)
}

func defaultPriority(t TargetType) int {
	if t == Test {
		return 0
	}
	return 1
}

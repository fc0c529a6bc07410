package main

import (
	"encoding/json"
	"os"

	"github.com/buildforge/engine/errdefs"
	"github.com/buildforge/engine/graph"
)

// wireTarget is the JSON stand-in for the declared-target input a real DSL
// frontend would deliver (explicitly out of scope — see spec's frontend
// Non-goal). It mirrors graph.Target field-for-field so `build` has
// something concrete to feed graph.Build without inventing a language.
type wireTarget struct {
	Label          string            `json:"label"`
	Type           string            `json:"type"`
	Sources        []string          `json:"sources"`
	Deps           []string          `json:"deps"`
	Env            map[string]string `json:"env"`
	Flags          []string          `json:"flags"`
	Language       string            `json:"language"`
	OutputPath     string            `json:"output_path"`
	HandlerConfig  map[string]string `json:"handler_config"`
	HandlerVersion string            `json:"handler_version"`
}

func loadTargets(path string) ([]*graph.Target, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.AsIO(err)
	}
	var wire []wireTarget
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, errdefs.AsParseAnalysis(err)
	}

	out := make([]*graph.Target, len(wire))
	for i, wt := range wire {
		out[i] = &graph.Target{
			Label:         graph.Label(wt.Label),
			Type:          parseTargetType(wt.Type),
			Sources:       wt.Sources,
			Deps:          labelsOf(wt.Deps),
			Env:           wt.Env,
			Flags:         wt.Flags,
			Language:      wt.Language,
			OutputPath:    wt.OutputPath,
			HandlerConfig: wt.HandlerConfig,
			HandlerVer:    wt.HandlerVersion,
		}
	}
	return out, nil
}

func parseTargetType(s string) graph.TargetType {
	switch s {
	case "executable":
		return graph.Executable
	case "library":
		return graph.Library
	case "test":
		return graph.Test
	default:
		return graph.Custom
	}
}

func labelsOf(ss []string) []graph.Label {
	out := make([]graph.Label, len(ss))
	for i, s := range ss {
		out[i] = graph.Label(s)
	}
	return out
}

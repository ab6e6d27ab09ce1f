package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/voice-persona-agents/agent/nodes/orchestrator"
)

const (
	nodeValidateTurn      = "validate_turn"
	nodeResolvePersona    = "resolve_persona"
	nodeDetectTermination = "detect_termination"
	nodeConverse          = "converse"
	nodeApplyControls     = "apply_controls"
	nodeCheckpoint        = "checkpoint"
	nodeFinalizeReply     = "finalize_reply"
	nodeCloseSession      = "close_session"
)

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodeValidateTurn,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateTurn(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_turn: %w", err)
	}

	if err := graph.AddLambdaNode(nodeResolvePersona,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolvePersona(in, o.personas)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node resolve_persona: %w", err)
	}

	if err := graph.AddLambdaNode(nodeDetectTermination,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.DetectTermination(in, o.cfg.EndPhrases), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node detect_termination: %w", err)
	}

	if err := graph.AddLambdaNode(nodeConverse,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Converse(ctx, in, o.reasoner, o.tools, nodex.ConverseConfig{
				ReasonTimeout: o.cfg.ReasonTimeout,
				MaxToolRounds: o.cfg.MaxToolRounds,
			}, o.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node converse: %w", err)
	}

	if err := graph.AddLambdaNode(nodeApplyControls,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ApplyControls(in, o.personas, o.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_controls: %w", err)
	}

	if err := graph.AddLambdaNode(nodeCheckpoint,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Checkpoint(ctx, in, o.records, o.saver, o.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node checkpoint: %w", err)
	}

	if err := graph.AddLambdaNode(nodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	if err := graph.AddLambdaNode(nodeCloseSession,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.CloseSession(ctx, in, o.records, o.saver, o.cfg.FlushTimeout, o.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node close_session: %w", err)
	}

	endOrConverse := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in.Terminate {
				return nodeCloseSession, nil
			}
			return nodeConverse, nil
		},
		map[string]bool{nodeConverse: true, nodeCloseSession: true},
	)
	if err := graph.AddBranch(nodeDetectTermination, endOrConverse); err != nil {
		return nil, fmt.Errorf("add branch after detect_termination: %w", err)
	}

	endOrCheckpoint := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if in.Terminate {
				return nodeCloseSession, nil
			}
			return nodeCheckpoint, nil
		},
		map[string]bool{nodeCheckpoint: true, nodeCloseSession: true},
	)
	if err := graph.AddBranch(nodeApplyControls, endOrCheckpoint); err != nil {
		return nil, fmt.Errorf("add branch after apply_controls: %w", err)
	}

	edges := [][2]string{
		{compose.START, nodeValidateTurn},
		{nodeValidateTurn, nodeResolvePersona},
		{nodeResolvePersona, nodeDetectTermination},
		{nodeConverse, nodeApplyControls},
		{nodeCheckpoint, nodeFinalizeReply},
		{nodeFinalizeReply, compose.END},
		{nodeCloseSession, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/groundedrag/commbus"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
	rpc "github.com/jeeves-cluster-organization/groundedrag/coreengine/grpc"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/runtime"
)

var (
	stageColor  = color.New(color.FgCyan).SprintFunc()
	okColor     = color.New(color.FgGreen).SprintFunc()
	warnColor   = color.New(color.FgYellow).SprintFunc()
	errColor    = color.New(color.FgRed).SprintFunc()
	headerColor = color.New(color.Bold).SprintFunc()
)

type askOptions struct {
	maxIterations int
	trace         bool
	resetMemory   bool
	verbose       bool
	stages        bool
	server        string
}

func newAskCmd(c *cli) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed regulations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := ""
			if len(args) == 1 {
				question = strings.TrimSpace(args[0])
			}
			if question == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Provide a question, e.g. `groundedrag ask \"Tu pregunta\"`.")
				return &exitError{code: 1}
			}

			var maxIterations *int
			if cmd.Flags().Changed("max-iterations") {
				n := opts.maxIterations
				if n < 0 || n > envelope.MaxIterationsLimit {
					fmt.Fprintf(cmd.OutOrStdout(), "--max-iterations must be between 0 and %d.\n", envelope.MaxIterationsLimit)
					return &exitError{code: 1}
				}
				maxIterations = &n
			}
			if opts.server != "" {
				return askRemote(cmd.Context(), cmd.OutOrStdout(), opts, question, maxIterations)
			}
			return askLocal(cmd.Context(), c, cmd.OutOrStdout(), opts, question, maxIterations)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.maxIterations, "max-iterations", 2, "maximum grounding retries")
	flags.BoolVar(&opts.trace, "trace", false, "print the traceability document")
	flags.BoolVar(&opts.resetMemory, "reset-memory", false, "clear the stored profile before running")
	flags.BoolVar(&opts.verbose, "verbose", false, "print stage events as they happen")
	flags.BoolVar(&opts.stages, "stages", false, "print a line per executed stage")
	flags.StringVar(&opts.server, "server", "", "ask a running TurnService at this address instead of running locally")
	return cmd
}

func askLocal(ctx context.Context, c *cli, out io.Writer, opts *askOptions, question string, maxIterations *int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bus := commbus.NewInMemoryCommBus(5*time.Second, c.logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(c.logger))
	if opts.verbose {
		subscribeProgress(bus, out)
	}

	a, err := buildApp(ctx, c.settings, bus, c.logger)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.resetMemory {
		if err := a.resetProfile(ctx); err != nil {
			return fmt.Errorf("reset memory: %w", err)
		}
	}

	state := a.orch.NewState(runtime.TurnRequest{Question: question, MaxIterations: maxIterations})
	var final *envelope.ConversationState
	if opts.stages {
		for stage := range a.orch.RunWithStream(ctx, state) {
			if stage.Stage == envelope.NodeEnd {
				final, err = stage.State, stage.Error
				continue
			}
			printStage(out, stage)
		}
	} else {
		final, _, err = a.orch.Execute(ctx, state, runtime.RunOptions{})
	}
	if err != nil {
		return err
	}

	printAnswer(out, final.Answer, final.CitedSources)
	if opts.trace {
		return printTrace(out, newTraceDocument(final))
	}
	return nil
}

func askRemote(ctx context.Context, out io.Writer, opts *askOptions, question string, maxIterations *int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := rpc.Dial(opts.server)
	if err != nil {
		return err
	}
	defer client.Close()

	var final *structpb.Struct
	if opts.stages {
		err = client.AskStream(ctx, question, maxIterations, func(msg *structpb.Struct) error {
			if msg.GetFields()["stage"].GetStringValue() == string(envelope.NodeEnd) {
				final = msg
				return nil
			}
			fields := msg.GetFields()
			fmt.Fprintf(out, "%s k=%d passages=%d %s\n",
				stageColor(fields["stage"].GetStringValue()),
				int(fields["k"].GetNumberValue()),
				int(fields["passages"].GetNumberValue()),
				statusText(fields["status"].GetStringValue()),
			)
			return nil
		})
	} else {
		final, err = client.Ask(ctx, question, maxIterations)
	}
	if err != nil {
		return err
	}
	if final == nil {
		return fmt.Errorf("server closed the stream without an answer")
	}

	fields := final.GetFields()
	var sources []string
	for _, v := range fields["sources"].GetListValue().GetValues() {
		sources = append(sources, v.GetStringValue())
	}
	printAnswer(out, fields["answer"].GetStringValue(), sources)
	if opts.trace {
		return printTrace(out, final.AsMap())
	}
	return nil
}

// subscribeProgress prints stage events published on bus.
func subscribeProgress(bus commbus.CommBus, out io.Writer) {
	bus.Subscribe("StageStarted", func(ctx context.Context, msg commbus.Message) (any, error) {
		if e, ok := msg.(*commbus.StageStarted); ok {
			fmt.Fprintf(out, "%s %s\n", warnColor("→"), stageColor(string(e.Stage)))
		}
		return nil, nil
	})
	bus.Subscribe("StageCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		if e, ok := msg.(*commbus.StageCompleted); ok {
			fmt.Fprintf(out, "%s %s %dms\n", statusText(e.Status), stageColor(string(e.Stage)), e.DurationMS)
		}
		return nil, nil
	})
	bus.Subscribe("RetryScheduled", func(ctx context.Context, msg commbus.Message) (any, error) {
		if e, ok := msg.(*commbus.RetryScheduled); ok {
			fmt.Fprintf(out, "%s retry %d with k=%d: %s\n", warnColor("↻"), e.Iteration, e.K, e.Reason)
		}
		return nil, nil
	})
}

func printStage(out io.Writer, stage runtime.StageOutput) {
	status := "success"
	if stage.Error != nil {
		status = "error"
	}
	fmt.Fprintf(out, "%s k=%d passages=%d %s\n",
		stageColor(string(stage.Stage)),
		stage.State.K,
		len(stage.State.Passages),
		statusText(status),
	)
}

func statusText(status string) string {
	if status == "success" {
		return okColor(status)
	}
	return errColor(status)
}

func printAnswer(out io.Writer, answer string, sources []string) {
	fmt.Fprintln(out, answer)
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\n"+headerColor("Sources:"))
	for _, s := range sources {
		fmt.Fprintf(out, "- %s\n", s)
	}
}

func printTrace(out io.Writer, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	fmt.Fprintln(out, "\n"+headerColor("Trace:"))
	fmt.Fprintln(out, string(data))
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/engram/pkg/service/dispatch"
	mcpservice "github.com/m-mizutani/engram/pkg/service/mcp"
	"github.com/m-mizutani/engram/pkg/usecase/chat"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg          config
		mcpConfig    string
		remoteServer string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Path to a YAML file describing MCP memory servers",
			Sources:     cli.EnvVars("ENGRAM_MCP_CONFIG"),
			Destination: &mcpConfig,
		},
		&cli.StringFlag{
			Name:        "remote",
			Usage:       "Name of the MCP server to dispatch memory operations to (default: local engine)",
			Sources:     cli.EnvVars("ENGRAM_MCP_REMOTE"),
			Destination: &remoteServer,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive memory-augmented conversation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			pol, err := cfg.newPolicy(ctx)
			if err != nil {
				return err
			}

			claude, err := cfg.newClaude()
			if err != nil {
				return err
			}

			dispatcher, cleanup, err := newChatDispatcher(ctx, &cfg, mcpConfig, remoteServer)
			if err != nil {
				return err
			}
			defer cleanup()

			session := chat.New(chat.NewInput{
				Policy:     pol,
				Dispatcher: dispatcher,
				Claude:     claude,
			})

			rl, err := readline.New("> ")
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(c.Root().Writer, "Chat session started. Type 'exit' to quit.\n")

			for {
				line, err := rl.Readline()
				if err != nil {
					if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
						break
					}
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" {
					break
				}
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				sp.Start()
				reply, err := session.Send(ctx, message)
				sp.Stop()

				if err != nil {
					return goerr.Wrap(err, "failed to process message")
				}

				fmt.Fprintf(c.Root().Writer, "%s\n", reply)
			}

			fmt.Fprintf(c.Root().Writer, "\nChat session completed\n")
			return nil
		},
	}
}

// newChatDispatcher builds the dispatcher for a chat session, either over
// the local engine or over a remote MCP memory server.
func newChatDispatcher(ctx context.Context, cfg *config, mcpConfig, remoteServer string) (*dispatch.Dispatcher, func(), error) {
	if remoteServer == "" {
		d, err := cfg.newDispatcher(ctx)
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}

	if mcpConfig == "" {
		return nil, nil, goerr.New("mcp-config is required when remote is set")
	}

	fileCfg, err := mcpservice.LoadConfig(mcpConfig)
	if err != nil {
		return nil, nil, err
	}

	client := mcpservice.NewClient()
	for _, serverCfg := range fileCfg.Servers {
		if serverCfg.Name != remoteServer {
			continue
		}
		if err := client.Connect(ctx, serverCfg); err != nil {
			return nil, nil, err
		}
	}

	if len(client.ServerNames()) == 0 {
		return nil, nil, goerr.New("remote server not found in MCP config",
			goerr.V("remote", remoteServer), goerr.V("config", mcpConfig))
	}

	tools, err := client.GetTools(remoteServer)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	required := map[string]bool{"memory_store": false, "memory_recall": false}
	for _, tool := range tools {
		if _, ok := required[tool.Name]; ok {
			required[tool.Name] = true
		}
	}
	for name, found := range required {
		if !found {
			_ = client.Close()
			return nil, nil, goerr.New("remote server does not expose a required memory tool",
				goerr.V("remote", remoteServer), goerr.V("tool", name))
		}
	}

	exec := mcpservice.NewRemoteExecutor(client, remoteServer)
	return dispatch.New(exec), func() { _ = client.Close() }, nil
}

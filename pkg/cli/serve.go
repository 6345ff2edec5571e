package cli

import (
	"context"
	"net/http"

	mcpservice "github.com/m-mizutani/engram/pkg/service/mcp"
	"github.com/m-mizutani/engram/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func serveCommand() *cli.Command {
	var cfg config
	var addr string

	flags := globalFlags(&cfg)
	flags = append(flags, embeddingFlags(&cfg)...)
	flags = append(flags, &cli.StringFlag{
		Name:        "addr",
		Usage:       "Serve over streamable HTTP on this address instead of stdio",
		Sources:     cli.EnvVars("ENGRAM_ADDR"),
		Destination: &addr,
	})

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the memory engine as an MCP server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			store, err := cfg.newStore(ctx)
			if err != nil {
				return err
			}

			srv := mcpservice.NewServer(store, version)

			logging.From(ctx).Info("starting MCP server",
				"index", cfg.index, "embedder", cfg.embedder, "collection", cfg.collection, "addr", addr)

			if addr != "" {
				httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
				go func() {
					<-ctx.Done()
					_ = httpSrv.Close()
				}()
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return goerr.Wrap(err, "MCP server exited")
				}
				return nil
			}

			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
				return goerr.Wrap(err, "MCP server exited")
			}
			return nil
		},
	}
}

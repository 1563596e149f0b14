package main

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/apkgview/internal"
	"github.com/starford/apkgview/internal/viewer"
	pkgconfig "github.com/starford/apkgview/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func openArchive(ctx context.Context, cmd *cli.Command) (*viewer.Service, *viewer.FileInfo, error) {
	if cmd.Args().Len() != 1 {
		return nil, nil, fmt.Errorf("expected exactly one archive path or URL")
	}
	opts, err := options(cmd)
	if err != nil {
		return nil, nil, err
	}
	return internal.Open(ctx, cmd.Args().First(), opts...)
}

func printDecks(ctx context.Context, cmd *cli.Command) error {
	svc, info, err := openArchive(ctx, cmd)
	if err != nil {
		return err
	}
	decks, err := svc.Decks(ctx, info.Name)
	if err != nil {
		return err
	}

	w := output(cmd)
	for _, d := range decks {
		marker := " "
		if d.HasChildren {
			marker = "-"
			if d.Collapsed {
				marker = "+"
			}
		}
		parts := strings.Split(d.Name, "::")
		name := parts[len(parts)-1]
		line := fmt.Sprintf("%s%s %s (%d notes, id %d)", strings.Repeat("  ", d.Depth), marker, name, d.Notes, d.ID)
		if d.Hidden {
			line += " [hidden]"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body class="card">
%s
</body>
</html>
`

func renderCard(ctx context.Context, cmd *cli.Command) error {
	side, err := viewer.ParseSide(cmd.String("side"))
	if err != nil {
		return err
	}
	svc, info, err := openArchive(ctx, cmd)
	if err != nil {
		return err
	}
	text := cmd.Bool("text")
	card, err := svc.RenderCard(ctx, info.Name, cmd.Int("note"), int(cmd.Int("card")), side, text)
	if err != nil {
		return err
	}

	content := card.Content
	if text {
		content += "\n"
	} else {
		title := fmt.Sprintf("%s: note %d, %s", info.Name, card.NoteID, card.Name)
		content = fmt.Sprintf(pageTemplate, html.EscapeString(title), content)
	}

	if path := cmd.String("out"); path != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		slog.Info("card written", slog.String("path", path), slog.Bool("has_math", card.HasMath))
		return nil
	}
	_, err = io.WriteString(output(cmd), content)
	return err
}

func main() {
	cmd := &cli.Command{
		Name:    "apkgview",
		Usage:   "Browse and render Anki deck archives over HTTP, MCP or the command line",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the library over HTTP",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the library to an MCP client over stdio",
				Action: serveMCP,
			},
			{
				Name:      "decks",
				Usage:     "Print the deck tree of an archive",
				ArgsUsage: "<archive>",
				Action:    printDecks,
			},
			{
				Name:      "render",
				Usage:     "Render one card of an archive as self-contained HTML or plain text",
				ArgsUsage: "<archive>",
				Action:    renderCard,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "note", Usage: "Note id", Required: true},
					&cli.IntFlag{Name: "card", Usage: "Zero-based card index"},
					&cli.StringFlag{Name: "side", Usage: "question or answer", Value: "question"},
					&cli.BoolFlag{Name: "text", Usage: "Plain text instead of HTML"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write to file instead of stdout"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/locate"
	"github.com/hpungsan/evlens/internal/logging"
	"github.com/hpungsan/evlens/internal/overlay"
	"github.com/hpungsan/evlens/internal/web"
)

// cliEnv carries what commands need from main. Nil for help and version.
type cliEnv struct {
	db         *sql.DB
	cfg        *config.Config
	exportsDir string
	logger     *log.Logger
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *cliEnv) *cli.App {
	if env == nil {
		env = &cliEnv{}
	}
	if env.cfg == nil {
		env.cfg = config.DefaultConfig()
	}
	env.logger = logging.OrDiscard(env.logger)

	app := &cli.App{
		Name:    "evlens",
		Usage:   "Evidence span review for email predictions",
		Version: Version,
		Commands: []*cli.Command{
			inspectCmd(env),
			locateCmd(env),
			showCmd(env),
			serveCmd(env),
			feedbackCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

var formatFlag = &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Document format: json|yaml (default: from extension or content)"}

// inspectOutput is the inspect command's report.
type inspectOutput struct {
	Header      document.Header     `json:"header"`
	ContentType string              `json:"content_type"`
	Warnings    []string            `json:"warnings,omitempty"`
	Predictions []inspectPrediction `json:"predictions"`
}

type inspectPrediction struct {
	ID       string            `json:"id"`
	Intent   string            `json:"intent"`
	Action   string            `json:"action"`
	Artefact document.Artefact `json:"artefact"`
	Resolved int               `json:"resolved"`
	Spans    []locate.Report   `json:"spans"`
}

// inspectCmd creates the inspect command.
func inspectCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize an analysis document and where each evidence span lands",
		ArgsUsage: "<file|->",
		Flags:     []cli.Flag{formatFlag},
		Action: func(c *cli.Context) error {
			ctl, warnings, err := env.open(c)
			if err != nil {
				return outputError(err)
			}

			a := ctl.Analysis()
			out := inspectOutput{
				Header:      a.Email.Header,
				ContentType: string(ctl.Snapshot().ContentType),
				Warnings:    warnings,
				Predictions: make([]inspectPrediction, 0, len(a.Predictions())),
			}
			for _, p := range a.Predictions() {
				ip := inspectPrediction{
					ID:       p.ID,
					Intent:   p.Intent,
					Action:   p.Action,
					Artefact: p.Artefact,
					Spans:    make([]locate.Report, 0, len(p.EvidenceSpans)),
				}
				for _, s := range p.EvidenceSpans {
					r, err := ctl.Locate(s)
					if err != nil {
						return outputError(err)
					}
					if r.Found {
						ip.Resolved++
					}
					ip.Spans = append(ip.Spans, r)
				}
				out.Predictions = append(out.Predictions, ip)
			}
			return outputJSON(c.App.Writer, out)
		},
	}
}

// locateCmd creates the locate command.
func locateCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "locate",
		Usage:     "Locate one evidence span: a prediction's span by index, or one given by flags",
		ArgsUsage: "<file|->",
		Flags: []cli.Flag{
			formatFlag,
			&cli.StringFlag{Name: "prediction", Aliases: []string{"p"}, Usage: "Prediction id"},
			&cli.IntFlag{Name: "index", Aliases: []string{"i"}, Usage: "Evidence span index within the prediction"},
			&cli.StringFlag{Name: "xpath", Usage: "Span path (structural spans)"},
			&cli.IntFlag{Name: "relative-start", Usage: "Start offset within the path's text"},
			&cli.IntFlag{Name: "relative-end", Usage: "End offset within the path's text"},
			&cli.IntFlag{Name: "start", Usage: "Absolute start offset (plain-text spans)"},
			&cli.IntFlag{Name: "end", Usage: "Absolute end offset (plain-text spans)"},
			&cli.StringFlag{Name: "text", Usage: "Span text"},
		},
		Action: func(c *cli.Context) error {
			ctl, _, err := env.open(c)
			if err != nil {
				return outputError(err)
			}

			var span document.EvidenceSpan
			if id := c.String("prediction"); id != "" {
				p, ok := ctl.Analysis().Prediction(id)
				if !ok {
					return outputError(errors.NewNotFound("prediction", id))
				}
				i := c.Int("index")
				if i < 0 || i >= len(p.EvidenceSpans) {
					return outputError(errors.NewInvalidRequest(
						fmt.Sprintf("index %d out of range (prediction %s has %d spans)", i, id, len(p.EvidenceSpans))))
				}
				span = p.EvidenceSpans[i]
			} else {
				if !c.IsSet("text") {
					return outputError(errors.NewInvalidRequest("--prediction or --text is required"))
				}
				span = document.EvidenceSpan{
					XPath:         c.String("xpath"),
					RelativeStart: c.Int("relative-start"),
					RelativeEnd:   c.Int("relative-end"),
					Start:         c.Int("start"),
					End:           c.Int("end"),
					Text:          c.String("text"),
				}
			}

			r, err := ctl.Locate(span)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, r)
		},
	}
}

// showCmd creates the show command.
func showCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the email body with a prediction's evidence highlighted",
		ArgsUsage: "<file|->",
		Flags: []cli.Flag{
			formatFlag,
			&cli.StringFlag{Name: "prediction", Aliases: []string{"p"}, Required: true, Usage: "Prediction id"},
		},
		Action: func(c *cli.Context) error {
			ctl, _, err := env.open(c)
			if err != nil {
				return outputError(err)
			}
			if err := ctl.SelectPrediction(c.String("prediction")); err != nil {
				return outputError(err)
			}

			plan := ctl.Plan()
			w := c.App.Writer
			fmt.Fprintln(w, overlay.Terminal(ctl.Snapshot(), plan))
			for _, s := range plan.Skipped {
				fmt.Fprintf(w, "not shown: %s (%s)\n", s.SpanID, s.Reason)
			}
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the review UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 7411, Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "read-only", Usage: "Show highlights without edit affordances"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("read-only") {
				env.cfg.ReadOnly = true
			}
			sink, err := feedback.Open(env.cfg, env.db, env.exportsDir, env.logger)
			if err != nil {
				return outputError(err)
			}
			sessions := env.sessions()
			defer sessions.Close()

			srv, err := web.NewServer(web.Deps{
				Sessions: sessions,
				Config:   env.cfg,
				Sink:     sink,
				DB:       env.db,
				Logger:   env.logger,
			}, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, env.logger)
		},
	}
}

// feedbackCmd creates the feedback command group.
func feedbackCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "feedback",
		Usage: "Browse and export stored corrections",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored submissions, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: feedback.DefaultListLimit, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					if env.db == nil {
						return outputError(errors.NewInternal(fmt.Errorf("no feedback database")))
					}
					out, err := feedback.List(c.Context, env.db, feedback.ListInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, out)
				},
			},
			{
				Name:      "show",
				Usage:     "Print one submission as a Markdown summary",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the stored records as JSON"},
				},
				Action: func(c *cli.Context) error {
					if env.db == nil {
						return outputError(errors.NewInternal(fmt.Errorf("no feedback database")))
					}
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("submission id is required"))
					}
					sub, err := feedback.Get(c.Context, env.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if c.Bool("json") {
						return outputJSON(c.App.Writer, sub)
					}
					_, err = io.WriteString(c.App.Writer, feedback.Summary(sub.Records, nil))
					return err
				},
			},
			{
				Name:  "export",
				Usage: "Export every stored correction record to a JSONL file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.evlens/exports/feedback-export-<timestamp>.jsonl)"},
				},
				Action: func(c *cli.Context) error {
					if env.db == nil {
						return outputError(errors.NewInternal(fmt.Errorf("no feedback database")))
					}
					out, err := feedback.Export(c.Context, env.db, env.cfg, feedback.ExportInput{
						Path:       c.String("path"),
						ExportsDir: env.exportsDir,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c.App.Writer, out)
				},
			},
		},
	}
}

// open reads the document named by the first argument ("-" for stdin) and
// loads it into a read-only controller.
func (e *cliEnv) open(c *cli.Context) (*controller.Controller, []string, error) {
	if c.NArg() == 0 {
		return nil, nil, errors.NewInvalidRequest("document path is required (use - for stdin)")
	}
	path := c.Args().First()

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewNotFound("file", path)
		}
		return nil, nil, errors.NewInternal(err)
	}

	a, warnings, err := document.LoadLimited(data, formatFor(path, c.String("format")), e.cfg.MaxDocumentBytes)
	if err != nil {
		return nil, nil, err
	}
	for _, note := range warnings {
		e.logger.Debug("document repaired", "note", note)
	}

	ctl := controller.New(controller.Options{
		CharWidthPx: e.cfg.CharWidthPx,
		ReadOnly:    true,
		Logger:      e.logger,
	})
	if err := ctl.Load(a); err != nil {
		return nil, nil, err
	}
	return ctl, warnings, nil
}

// formatFor picks the document format from the flag, then the file extension.
func formatFor(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	return ""
}

// Helper functions

// outputJSON marshals result to w as JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if lErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", lErr.Code, lErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

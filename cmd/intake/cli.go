package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/imaging"
	"github.com/hpungsan/intake/internal/ops"
	"github.com/hpungsan/intake/internal/payload"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
	"github.com/hpungsan/intake/internal/submit"
	"github.com/hpungsan/intake/internal/web"
)

// maxStdinBytes bounds a record read from stdin.
const maxStdinBytes = 1 << 20

// cliOrigin is the submittedFrom value of records sent from the command line.
const cliOrigin = "cli"

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.App {
	app := &cli.App{
		Name:    "intake",
		Usage:   "Guided consultation intake",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(db, cfg, log),
			validateCmd(cfg),
			canonicalizeCmd(cfg, log),
			compressCmd(cfg, log),
			submitCmd(db, cfg, log),
			draftsCmd(db),
			submissionsCmd(db),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the interview web server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			if strings.TrimSpace(cfg.Endpoint) == "" {
				log.Warn("no intake endpoint configured; submissions will fail until INTAKE_ENDPOINT is set")
			}

			previews := photo.NewPreviewRegistry()
			store := ops.NewStore(db)
			nav := flow.NewNavigator(ops.RulesFromConfig(cfg), store, log)
			deps := web.Deps{
				Sessions:  flow.NewRegistry(capsOf(cfg), previews),
				Navigator: nav,
				Submitter: newSubmitter(nav, store, cfg, log),
				Previews:  previews,
				Drafts:    store,
				Config:    cfg,
				Log:       log,
				Version:   Version,
			}

			srv, err := web.NewServer(deps, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewUnexpected(err))
			}
			return web.Run(srv, deps)
		},
	}
}

// validateCmd creates the validate command.
func validateCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a record (JSON on stdin) against the submission rules",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "photos", Usage: "Number of selected photos"},
		},
		Action: func(c *cli.Context) error {
			rec, err := readRecord()
			if err != nil {
				return outputError(err)
			}

			output := ops.Validate(ops.RulesFromConfig(cfg), ops.ValidateInput{
				Record:     rec,
				PhotoCount: c.Int("photos"),
			})
			if err := outputJSON(output); err != nil {
				return err
			}
			if !output.Valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

// canonicalizeCmd creates the canonicalize command.
func canonicalizeCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "canonicalize",
		Usage:     "Build the submission payload for a record (JSON on stdin) without sending it",
		ArgsUsage: "[photo ...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "inspiration", Aliases: []string{"i"}, Usage: "Inspiration photo (repeatable)"},
			&cli.StringFlag{Name: "from", Value: cliOrigin, Usage: "submittedFrom value"},
		},
		Action: func(c *cli.Context) error {
			rec, err := readRecord()
			if err != nil {
				return outputError(err)
			}

			p, err := ops.Canonicalize(c.Context, argsConfig(cfg), imaging.NewPipeline(log), ops.CanonicalizeInput{
				Record: rec,
				Photos: photoRefs(c.Args().Slice(), c.StringSlice("inspiration")),
				Origin: payload.Origin{SubmittedFrom: c.String("from"), UserAgent: userAgent()},
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(p)
		},
	}
}

// CompressOutput describes one compressed photo written by compress.
type CompressOutput struct {
	Source string `json:"source"`
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
}

// compressCmd creates the compress command.
func compressCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "compress",
		Usage:     "Compress photos to the JPEG form they are submitted in",
		ArgsUsage: "<photo> [photo ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: ".", Usage: "Output directory"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("at least one photo is required"))
			}
			outDir := c.String("out")
			if err := os.MkdirAll(outDir, 0700); err != nil {
				return outputError(errors.NewUnexpected(err))
			}

			pipeline := imaging.NewPipeline(log)
			results := make([]CompressOutput, 0, c.NArg())
			for _, path := range c.Args().Slice() {
				p, _, err := ops.OpenPhoto(argsConfig(cfg), ops.PhotoRef{Path: path})
				if err != nil {
					return outputError(err)
				}
				encoded, err := pipeline.Compress(c.Context, p, cfg.MaxEdgePixels, cfg.JPEGQuality)
				if err != nil {
					return outputError(err)
				}
				data, err := base64.StdEncoding.DecodeString(imaging.StripPrefix(encoded))
				if err != nil {
					return outputError(errors.NewUnexpected(err))
				}

				base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				out := filepath.Join(outDir, ops.SanitizeForFilename(base)+".jpg")
				if err := os.WriteFile(out, data, 0600); err != nil {
					return outputError(errors.NewUnexpected(err))
				}
				results = append(results, CompressOutput{Source: path, Output: out, Bytes: len(data)})
			}

			return outputJSON(results)
		},
	}
}

// SubmitOutput is the result of the submit command.
type SubmitOutput struct {
	SessionID string `json:"session_id"`
	Step      string `json:"step"`
	Photos    int    `json:"photos"`
}

// submitCmd creates the submit command.
func submitCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Walk a record (JSON on stdin) through the interview and send it once",
		ArgsUsage: "<photo> [photo ...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "inspiration", Aliases: []string{"i"}, Usage: "Inspiration photo (repeatable)"},
			&cli.StringFlag{Name: "endpoint", Usage: "Intake service URL (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			rec, err := readRecord()
			if err != nil {
				return outputError(err)
			}

			runCfg := *cfg
			if endpoint := c.String("endpoint"); endpoint != "" {
				runCfg.Endpoint = endpoint
			}

			store := ops.NewStore(db)
			nav := flow.NewNavigator(ops.RulesFromConfig(&runCfg), store, log)
			output, err := runSubmit(c.Context, nav, newSubmitter(nav, store, &runCfg, log), &runCfg, rec,
				photoRefs(c.Args().Slice(), c.StringSlice("inspiration")))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// runSubmit drives a headless session from intro to complete. Each step
// passes its gate on the way, so a record that the web interview would stop
// is stopped here with the same message.
func runSubmit(ctx context.Context, nav *flow.Navigator, submitter *submit.Controller, cfg *config.Config, rec record.WorkingRecord, refs []ops.PhotoRef) (*SubmitOutput, error) {
	s := flow.NewRegistry(capsOf(cfg), nil).Create()
	defer s.Close()

	if err := nav.Dispatch(ctx, s, flow.UpdateAnswers{Patch: rec}); err != nil {
		return nil, err
	}

	byBucket := make(map[photo.Bucket][]*photo.Photo)
	for _, ref := range refs {
		p, bucket, err := ops.OpenPhoto(argsConfig(cfg), ref)
		if err != nil {
			return nil, err
		}
		byBucket[bucket] = append(byBucket[bucket], p)
	}
	for _, b := range photo.Buckets {
		if len(byBucket[b]) == 0 {
			continue
		}
		if err := nav.Dispatch(ctx, s, &flow.AddPhotos{Bucket: b, Photos: byBucket[b]}); err != nil {
			return nil, err
		}
	}

	if err := nav.Dispatch(ctx, s, flow.GoTo{Step: flow.StepReview}); err != nil {
		return nil, err
	}
	photos := s.View().PhotoCount
	if err := submitter.Submit(ctx, s, payload.Origin{SubmittedFrom: cliOrigin, UserAgent: userAgent()}); err != nil {
		return nil, err
	}

	v := s.View()
	return &SubmitOutput{SessionID: s.ID, Step: v.Step.String(), Photos: photos}, nil
}

// draftsCmd creates the drafts command group.
func draftsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "drafts",
		Usage: "Inspect and clean up saved interview drafts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List drafts, most recently updated first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Skip N results"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListDrafts(c.Context, db, ops.ListDraftsInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show one draft",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					snap, err := ops.LoadDraft(c.Context, db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{
						"session_id": snap.SessionID,
						"step":       snap.Step.String(),
						"answers":    snap.Answers,
						"photos":     snap.Photos,
						"updated_at": snap.UpdatedAt.Unix(),
					})
				},
			},
			{
				Name:      "clear",
				Usage:     "Remove one draft",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					output, err := ops.ClearDraft(c.Context, db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "purge",
				Usage: "Permanently delete drafts not touched for a while",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "older-than", Value: "30d", Usage: "Age threshold in days (e.g., 7d)"},
				},
				Action: func(c *cli.Context) error {
					days, err := parseDuration(c.String("older-than"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					output, err := ops.PurgeDrafts(c.Context, db, ops.PurgeDraftsInput{OlderThanDays: days})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// submissionsCmd creates the submissions command.
func submissionsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "submissions",
		Usage: "List logged submission attempts, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Filter by session ID"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Skip N results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListSubmissions(c.Context, db, ops.ListSubmissionsInput{
				SessionID: c.String("session"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

func newSubmitter(nav *flow.Navigator, store *ops.Store, cfg *config.Config, log *zap.Logger) *submit.Controller {
	return submit.NewController(nav,
		imaging.NewPipeline(log),
		submit.NewHTTPTransport(cfg.Endpoint, nil),
		store,
		submit.OptionsFromConfig(cfg),
		log)
}

func capsOf(cfg *config.Config) photo.Caps {
	return photo.Caps{Current: cfg.MaxCurrentPhotos, Inspiration: cfg.InspirationCap()}
}

// argsConfig relaxes the photo directory restriction for paths typed on the
// command line. Traversal and symlink checks still apply.
func argsConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.AllowUnsafePaths = true
	return &c
}

// photoRefs lists current photos first, then inspiration photos.
func photoRefs(current, inspiration []string) []ops.PhotoRef {
	refs := make([]ops.PhotoRef, 0, len(current)+len(inspiration))
	for _, p := range current {
		refs = append(refs, ops.PhotoRef{Path: p, Bucket: photo.BucketCurrent})
	}
	for _, p := range inspiration {
		refs = append(refs, ops.PhotoRef{Path: p, Bucket: photo.BucketInspiration})
	}
	return refs
}

func userAgent() string {
	return "intake-cli/" + Version
}

// readRecord reads a JSON object from stdin.
func readRecord() (record.WorkingRecord, error) {
	if !stdinHasData() {
		return nil, errors.NewInvalidRequest("record JSON must be piped via stdin")
	}
	text, err := readStdin(maxStdinBytes)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return parseRecord(text)
}

// parseRecord decodes a record, which must be a JSON object.
func parseRecord(text string) (record.WorkingRecord, error) {
	if text == "" {
		return nil, errors.NewInvalidRequest("record is required")
	}
	var rec record.WorkingRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("record must be a JSON object: %v", err))
	}
	if rec == nil {
		return nil, errors.NewInvalidRequest("record must be a JSON object")
	}
	return rec, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var iErr *errors.IntakeError
	if errors.As(err, &iErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", iErr.Code, iErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

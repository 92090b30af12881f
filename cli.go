package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Perceptus-Labs/label-reader/capture"
	"github.com/Perceptus-Labs/label-reader/config"
	"github.com/Perceptus-Labs/label-reader/handlers"
	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/Perceptus-Labs/label-reader/utils"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// newCLIApp creates the CLI application with all commands.
func newCLIApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "labelreader",
		Usage:   "Spoken product label reader",
		Version: Version,
		Writer:  out,
		Commands: []*cli.Command{
			serveCmd(),
			scanCmd(out),
			kbCmd(out),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// setup loads the configuration and installs the global logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{Window: cfg.CaptureWindow, Interval: cfg.CaptureInterval}
}

// newKnowledgeBase connects to Pinecone when it is configured.
func newKnowledgeBase(ctx context.Context, cfg *config.Config, embedder utils.Embedder) (*utils.KnowledgeBase, error) {
	if !cfg.PineconeEnabled() {
		return nil, nil
	}
	index, err := utils.GetPineconeIndex(ctx, cfg.PineconeAPIKey, cfg.PineconeIndex)
	if err != nil {
		return nil, err
	}
	return utils.NewKnowledgeBase(index, embedder), nil
}

func openAIOptions(cfg *config.Config, logger *zap.Logger, notes utils.ProductNotes) []utils.OpenAIOption {
	opts := []utils.OpenAIOption{
		utils.WithModel(cfg.OpenAIModel),
		utils.WithBaseURL(cfg.OpenAIBaseURL),
		utils.WithOpenAILogger(logger),
	}
	if notes != nil {
		opts = append(opts, utils.WithProductNotes(notes))
	}
	return opts
}

// newAnalyzer builds the OpenAI client, with saved product notes and the
// Redis result cache when those are configured.
func newAnalyzer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (handlers.Analyzer, handlers.QuestionAnswerer, func()) {
	var notes utils.ProductNotes
	kb, err := newKnowledgeBase(ctx, cfg, utils.NewOpenAIClient(cfg.OpenAIAPIKey, openAIOptions(cfg, logger, nil)...))
	if err != nil {
		logger.Warn("Product notes disabled", zap.Error(err))
	} else if kb != nil {
		notes = kb
		logger.Info("Product notes enabled", zap.String("index", cfg.PineconeIndex))
	}
	client := utils.NewOpenAIClient(cfg.OpenAIAPIKey, openAIOptions(cfg, logger, notes)...)

	cleanup := func() {}
	var analyzer handlers.Analyzer = client
	if cfg.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.RedisPassword,
			DB:          0,
			DialTimeout: 20 * time.Second,
		})

		redisCtx, cancelRedis := context.WithTimeout(ctx, 10*time.Second)
		defer cancelRedis()
		if _, err := redisClient.Ping(redisCtx).Result(); err != nil {
			logger.Warn("Failed to connect to Redis, analysis cache disabled", zap.Error(err))
			redisClient.Close()
		} else {
			logger.Info("Successfully connected to Redis")
			analyzer = utils.NewAnalysisCache(redisClient, client, cfg.AnalysisCacheTTL, logger)
			cleanup = func() { redisClient.Close() }
		}
	}
	return analyzer, client, cleanup
}

// deepgramTranscribers opens a live Deepgram stream per dictation request.
func deepgramTranscribers(cfg *config.Config, logger *zap.Logger) handlers.TranscriberFactory {
	if !cfg.DictationEnabled() {
		return nil
	}
	return func(lang models.Language, transcripts chan<- string, onSpeechStarted func()) (handlers.Transcriber, error) {
		dg, err := utils.NewDeepgramClient(utils.DeepgramOptions{
			APIKey:          cfg.DeepgramAPIKey,
			Language:        lang,
			Encoding:        cfg.DeepgramEncoding,
			SampleRate:      cfg.DeepgramSampleRate,
			OnSpeechStarted: onSpeechStarted,
		}, transcripts, logger)
		if err != nil {
			return nil, err
		}
		if err := dg.Connect(); err != nil {
			return nil, err
		}
		return dg, nil
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve phone clients over websocket",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			analyzer, answerer, cleanup := newAnalyzer(ctx, cfg, logger)
			defer cleanup()

			srv := &handlers.Server{
				Analyzer:       analyzer,
				Answerer:       answerer,
				Transcribers:   deepgramTranscribers(cfg, logger),
				CaptureConfig:  captureConfig(cfg),
				AnalyzeTimeout: cfg.AnalyzeTimeout,
				Language:       cfg.DefaultLanguage,
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", handlers.HealthCheckHandler)
			mux.HandleFunc("/session", srv.HandleDeviceSession)
			httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)

			serverErr := make(chan error, 1)
			go func() {
				logger.Info("Starting server", zap.String("addr", httpServer.Addr), zap.String("version", Version))
				serverErr <- httpServer.ListenAndServe()
			}()

			select {
			case <-stop:
				logger.Info("Shutting down server...")
			case err := <-serverErr:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server exited unexpectedly: %w", err)
				}
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shut down server: %w", err)
			}
			logger.Info("Server shut down gracefully")
			return nil
		},
	}
}

// fileSource replays image files as camera frames, one per capture.
type fileSource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

func (f *fileSource) CaptureFrame() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.paths) {
		return nil, false
	}
	path := f.paths[f.next]
	f.next++
	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Warn("Failed to read frame", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (f *fileSource) Close() error { return nil }

// scanListener reports the end of a single scan.
type scanListener struct {
	handlers.NopListener
	mu      sync.Mutex
	cameras int
	done    chan error
	once    sync.Once
}

func (l *scanListener) finish(err error) {
	l.once.Do(func() { l.done <- err })
}

func (l *scanListener) AppStateChanged(state models.AppState) {
	switch state {
	case models.AppStateResult:
		l.finish(nil)
	case models.AppStateCamera:
		l.mu.Lock()
		l.cameras++
		back := l.cameras > 1
		l.mu.Unlock()
		if back {
			l.finish(models.NewAnalysisError("scan failed", nil))
		}
	}
}

func scanCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan a product with the local camera and read the label aloud",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "quick", Usage: "Scan mode: quick|full"},
			&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "Narration language: en|hi"},
			&cli.StringSliceFlag{Name: "image", Aliases: []string{"i"}, Usage: "Read frames from image files instead of the camera"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			mode, err := models.ParseScanMode(c.String("mode"))
			if err != nil {
				return err
			}
			lang := cfg.DefaultLanguage
			if v := c.String("lang"); v != "" {
				if lang, err = models.ParseLanguage(v); err != nil {
					return err
				}
			}

			analyzer, _, cleanup := newAnalyzer(c.Context, cfg, logger)
			defer cleanup()

			var camera capture.FrameSource = utils.NewCameraCapture(cfg.CameraDevice)
			if paths := c.StringSlice("image"); len(paths) > 0 {
				camera = &fileSource{paths: paths}
			}
			device := utils.NewConsoleDevice(out, logger)
			listener := &scanListener{done: make(chan error, 1)}

			session := handlers.NewInteractionSession(analyzer,
				handlers.Peripherals{Camera: camera, Speaker: device, Haptics: device},
				handlers.WithSessionLogger(logger),
				handlers.WithLanguage(lang),
				handlers.WithListener(listener),
				handlers.WithAnalyzeTimeout(cfg.AnalyzeTimeout),
				handlers.WithCaptureOptions(capture.WithConfig(captureConfig(cfg)), capture.WithMode(mode)))

			if err = session.Start(); err == nil {
				err = session.Capture()
			}
			if err == nil {
				err = awaitScan(session, listener, mode, cfg.CaptureWindow+cfg.AnalyzeTimeout+5*time.Second)
			}

			// Let the narration finish before closing.
			session.Wait()
			if cerr := session.Close(); cerr != nil {
				logger.Warn("Failed to close session", zap.Error(cerr))
			}
			return err
		},
	}
}

// awaitScan waits for the triggered scan to finish. A Quick scan takes its
// frame inside Capture, so a session still on the camera afterwards got none.
func awaitScan(session *handlers.InteractionSession, listener *scanListener, mode models.ScanMode, deadline time.Duration) error {
	if mode == models.ScanModeQuick && session.State() == models.AppStateCamera {
		select {
		case err := <-listener.done:
			return err
		default:
			return models.NewCaptureFailure(errors.New("camera returned no frame"))
		}
	}
	select {
	case err := <-listener.done:
		return err
	case <-time.After(deadline):
		return models.NewCaptureFailure(fmt.Errorf("no capture completed within %s", deadline))
	}
}

func kbCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "kb",
		Usage: "Manage saved product notes",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Save a note that follow-up answers can use",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Note ID (generated when omitted)"},
					&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Required: true, Usage: "Note text"},
				},
				Action: func(c *cli.Context) error {
					cfg, logger, err := setup()
					if err != nil {
						return err
					}
					defer logger.Sync()

					if !cfg.PineconeEnabled() {
						return models.NewCapabilityUnavailable("knowledge base")
					}
					client := utils.NewOpenAIClient(cfg.OpenAIAPIKey, openAIOptions(cfg, logger, nil)...)
					kb, err := newKnowledgeBase(c.Context, cfg, client)
					if err != nil {
						return err
					}

					ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
					defer cancel()
					id, err := kb.AddNote(ctx, c.String("id"), c.String("text"))
					if err != nil {
						return err
					}
					fmt.Fprintln(out, id)
					return nil
				},
			},
		},
	}
}

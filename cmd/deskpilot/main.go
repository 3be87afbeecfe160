// Deskpilot — агент управления рабочим столом из командной строки.
//
// Принимает задачу на естественном языке и выполняет её циклом
// "модель → инструменты → модель" поверх X11 сессии.
//
// Использование:
//
//	deskpilot "open firefox and download the latest Go release"
//	deskpilot -model fast "close all terminal windows"
//	deskpilot -resume s-1a2b3c4d5e6f7a8b
//	deskpilot -list
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilkoid/deskpilot/pkg/agent"
	"github.com/ilkoid/deskpilot/pkg/artifacts"
	"github.com/ilkoid/deskpilot/pkg/config"
	"github.com/ilkoid/deskpilot/pkg/debug"
	"github.com/ilkoid/deskpilot/pkg/driver"
	"github.com/ilkoid/deskpilot/pkg/events"
	"github.com/ilkoid/deskpilot/pkg/models"
	"github.com/ilkoid/deskpilot/pkg/prompt"
	"github.com/ilkoid/deskpilot/pkg/session"
	"github.com/ilkoid/deskpilot/pkg/tools"
	"github.com/ilkoid/deskpilot/pkg/tools/std"
	"github.com/ilkoid/deskpilot/pkg/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	modelName := flag.String("model", "", "model name or alias (default from config)")
	resumeID := flag.String("resume", "", "resume an interrupted session by id")
	deleteID := flag.String("delete", "", "delete a stored session by id and exit")
	listSessions := flag.Bool("list", false, "list stored sessions and exit")
	stream := flag.Bool("stream", true, "stream model output")
	flag.Parse()

	if err := run(options{
		configPath: *configPath,
		model:      *modelName,
		resumeID:   *resumeID,
		deleteID:   *deleteID,
		list:       *listSessions,
		stream:     *stream,
		args:       flag.Args(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", renderError(err))
		os.Exit(1)
	}
}

// options — разобранные флаги запуска.
type options struct {
	configPath string
	model      string
	resumeID   string
	deleteID   string
	list       bool
	stream     bool
	args       []string
}

func run(opts options) error {
	// Логгер пишет в файл: stdout занят выводом хода задачи.
	if err := utils.InitLogger(); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	agentCfg := cfg.Agent.GetDefaults()

	store, err := session.NewSQLiteStore(agentCfg.SessionDB)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	if opts.list {
		return printSessions(ctx, store)
	}
	if opts.deleteID != "" {
		if err := store.Delete(ctx, opts.deleteID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Printf("deleted %s\n", opts.deleteID)
		return nil
	}

	task := ""
	if len(opts.args) > 0 {
		task = opts.args[0]
	}
	if task == "" && opts.resumeID == "" {
		flag.Usage()
		return fmt.Errorf("a task or -resume is required")
	}

	registry, err := models.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("build model registry: %w", err)
	}

	xdrv, err := driver.NewXDriver()
	if err != nil {
		return fmt.Errorf("desktop driver unavailable: %w", err)
	}

	var artifactStore artifacts.StoreInterface
	if cfg.Artifacts.Enabled {
		s3, err := artifacts.New(cfg.Artifacts)
		if err != nil {
			return fmt.Errorf("artifact store: %w", err)
		}
		artifactStore = s3
	}

	toolRegistry := tools.NewRegistry()
	if _, err := std.RegisterAll(toolRegistry, xdrv, std.Options{
		Artifacts:     artifactStore,
		MaxImageWidth: cfg.App.MaxImageWidth,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	systemPrompt, err := prompt.LoadAgentSystemPrompt(cfg)
	if err != nil {
		return fmt.Errorf("load system prompt: %w", err)
	}

	runner, err := agent.New(agent.Config{
		Models:       registry,
		Tools:        toolRegistry,
		Store:        store,
		SystemPrompt: systemPrompt,
		Model:        opts.model,
		MaxSteps:     agentCfg.MaxSteps,
		ToolTimeout:  agentCfg.ToolTimeout,
		Streaming:    opts.stream,
	})
	if err != nil {
		return err
	}

	// События идут в канал: медленный терминал не тормозит цикл агента.
	emitter := events.NewChanEmitter(256)
	emitter.DropWhenFull = true
	runner.SetEmitter(emitter)

	var recorder *debug.Recorder
	if cfg.App.Debug {
		recorder = debug.NewRecorder("")
	}

	renderer := newRenderer(os.Stdout)
	rendered := make(chan struct{})
	sub := emitter.Subscribe()
	go func() {
		defer close(rendered)
		for event := range sub.Events() {
			renderer.Render(event)
			if recorder != nil {
				recorder.Record(event)
			}
		}
	}()

	start := time.Now()
	var result agent.Result
	if opts.resumeID != "" {
		result, err = runner.Resume(ctx, opts.resumeID)
	} else {
		result, err = runner.Start(ctx, task)
	}

	emitter.Close()
	<-rendered

	renderer.Summary(result, time.Since(start), err)

	if recorder != nil {
		if path, saveErr := recorder.SaveToFile(); saveErr == nil {
			fmt.Println(styleDim.Render("  trace: " + path))
		} else {
			utils.Warn("Failed to save execution trace", "error", saveErr)
		}
	}
	return err
}

// printSessions выводит таблицу сохранённых сессий.
func printSessions(ctx context.Context, store session.Store) error {
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, s := range summaries {
		fmt.Println(renderSessionRow(s))
	}
	return nil
}

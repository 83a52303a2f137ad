package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/ufbx-bridge/callback"
	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/engine"
	"github.com/wippyai/ufbx-bridge/errors"
	"github.com/wippyai/ufbx-bridge/ufbx"
)

type options struct {
	enginePath  string
	configPath  string
	memoryPages uint
	jsonOut     bool
	interactive bool
	verbose     bool
}

func main() {
	var o options
	flag.StringVar(&o.enginePath, "engine", os.Getenv("UFBX_WASM"), "Path to the ufbx engine wasm (default $UFBX_WASM)")
	flag.StringVar(&o.configPath, "config", "", "Load option file (.yaml or .json)")
	flag.UintVar(&o.memoryPages, "memory-pages", 0, "Engine memory limit in 64KB pages (0 = no limit)")
	flag.BoolVar(&o.jsonOut, "json", false, "Print the report as JSON")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mesh browser")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.Parse()

	if o.enginePath == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: fbxinfo -engine <ufbx.wasm> [-config opts.yaml] [-json] [-v] <file.fbx>")
		fmt.Fprintln(os.Stderr, "       fbxinfo -engine <ufbx.wasm> -i <file.fbx>  (interactive mode)")
		os.Exit(1)
	}

	logger, err := newLogger(o.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	engine.SetLogger(logger.Named("engine"))
	callback.SetLogger(logger.Named("callback"))
	ufbx.SetLogger(logger.Named("ufbx"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(ctx context.Context, o options, path string) error {
	wasm, err := os.ReadFile(o.enginePath)
	if err != nil {
		return fmt.Errorf("read engine: %w", err)
	}

	opts := &config.LoadOpts{}
	if o.configPath != "" {
		f, err := config.ParseFile(o.configPath)
		if err != nil {
			return err
		}
		if opts, err = f.ToLoadOpts(); err != nil {
			return err
		}
	}

	c, err := ufbx.NewWazero(ctx, wasm, &engine.Config{
		MemoryLimitPages:   uint32(o.memoryPages),
		CloseOnContextDone: true,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer c.Close(context.Background())

	tty := term.IsTerminal(int(os.Stderr.Fd()))
	opts.Progress = callback.ProgressCb{Func: progressPrinter(ctx, tty && !o.interactive)}

	scene, err := c.LoadFile(ctx, path, opts)
	if tty && !o.interactive {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
	if err != nil {
		return describe(ctx, c, err)
	}
	defer scene.Close(context.Background())

	if o.interactive {
		return runInteractive(ctx, c, scene, path)
	}

	rep, err := collect(ctx, scene, path)
	if err != nil {
		return err
	}
	if o.jsonOut {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}
	st := plainStyles()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		st = colorStyles()
	}
	fmt.Print(rep.render(st))
	return nil
}

// progressPrinter reports load progress on stderr and cancels the load
// once ctx is done.
func progressPrinter(ctx context.Context, show bool) func(callback.ProgressInfo) callback.ProgressResult {
	return func(p callback.ProgressInfo) callback.ProgressResult {
		if ctx.Err() != nil {
			return callback.Cancel
		}
		if show && p.BytesTotal > 0 {
			fmt.Fprintf(os.Stderr, "\rloading %3d%%", p.BytesRead*100/p.BytesTotal)
		}
		return callback.Continue
	}
}

// describe renders a load failure through the engine's formatter when it
// carries an engine error record.
func describe(ctx context.Context, c *ufbx.Context, err error) error {
	var ne *errors.NativeError
	if !stderrors.As(err, &ne) {
		return err
	}
	text, ferr := c.FormatError(ctx, err, 4096)
	if ferr != nil || text == "" {
		return err
	}
	return fmt.Errorf("load failed:\n%s", text)
}

type report struct {
	File        string       `json:"file"`
	Format      string       `json:"format"`
	Version     uint32       `json:"version"`
	ASCII       bool         `json:"ascii"`
	Elements    uint32       `json:"elements"`
	Nodes       uint32       `json:"nodes"`
	Materials   uint32       `json:"materials"`
	AnimStacks  uint32       `json:"anim_stacks"`
	RetainedDOM bool         `json:"retained_dom"`
	Meshes      []meshReport `json:"meshes"`
}

type meshReport struct {
	Index            int    `json:"index"`
	Vertices         uint32 `json:"vertices"`
	Indices          uint32 `json:"indices"`
	Faces            uint32 `json:"faces"`
	Triangles        uint32 `json:"triangles"`
	MaxFaceTriangles uint32 `json:"max_face_triangles"`
	Edges            uint32 `json:"edges"`
}

func collect(ctx context.Context, s *ufbx.Scene, path string) (*report, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("scene info: %w", err)
	}
	rep := &report{
		File:        path,
		Format:      info.Format.String(),
		Version:     info.Version,
		ASCII:       info.ASCII,
		Elements:    info.Elements,
		Nodes:       info.Nodes,
		Materials:   info.Materials,
		AnimStacks:  info.AnimStacks,
		RetainedDOM: info.RetainedDOM,
		Meshes:      make([]meshReport, 0, info.Meshes),
	}
	for i := 0; i < int(info.Meshes); i++ {
		mr, err := meshInfo(ctx, s, i)
		if err != nil {
			return nil, err
		}
		rep.Meshes = append(rep.Meshes, mr)
	}
	return rep, nil
}

func meshInfo(ctx context.Context, s *ufbx.Scene, i int) (meshReport, error) {
	m, err := s.Mesh(ctx, i)
	if err != nil {
		return meshReport{}, fmt.Errorf("mesh %d: %w", i, err)
	}
	defer m.Close(ctx)
	mi, err := m.Info(ctx)
	if err != nil {
		return meshReport{}, fmt.Errorf("mesh %d info: %w", i, err)
	}
	return meshReport{
		Index:            i,
		Vertices:         mi.Vertices,
		Indices:          mi.Indices,
		Faces:            mi.Faces,
		Triangles:        mi.Triangles,
		MaxFaceTriangles: mi.MaxFaceTriangles,
		Edges:            mi.Edges,
	}, nil
}

type styles struct {
	title lipgloss.Style
	key   lipgloss.Style
	value lipgloss.Style
	dim   lipgloss.Style
}

func plainStyles() styles {
	s := lipgloss.NewStyle()
	return styles{title: s, key: s, value: s, dim: s}
}

func colorStyles() styles {
	return styles{
		title: titleStyle,
		key:   typeStyle,
		value: resultStyle,
		dim:   helpStyle,
	}
}

func (r *report) render(st styles) string {
	var b strings.Builder
	kind := "binary"
	if r.ASCII {
		kind = "ascii"
	}
	b.WriteString(st.title.Render(r.File))
	b.WriteString("\n")
	row := func(k string, v any) {
		fmt.Fprintf(&b, "  %s %s\n", st.key.Render(fmt.Sprintf("%-11s", k)), st.value.Render(fmt.Sprint(v)))
	}
	row("format", fmt.Sprintf("%s %d (%s)", r.Format, r.Version, kind))
	row("elements", r.Elements)
	row("nodes", r.Nodes)
	row("materials", r.Materials)
	row("anim stacks", r.AnimStacks)
	row("meshes", len(r.Meshes))
	for _, m := range r.Meshes {
		b.WriteString(st.dim.Render(fmt.Sprintf("  mesh %d: ", m.Index)))
		b.WriteString(m.summary())
		b.WriteString("\n")
	}
	return b.String()
}

func (m meshReport) summary() string {
	return fmt.Sprintf("%d faces, %d triangles, %d vertices, %d indices", m.Faces, m.Triangles, m.Vertices, m.Indices)
}

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ufbx-bridge/config"
	"github.com/wippyai/ufbx-bridge/ufbx"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type meshItem struct {
	meshReport
}

func (i meshItem) Title() string       { return fmt.Sprintf("mesh %d", i.Index) }
func (i meshItem) Description() string { return i.summary() }
func (i meshItem) FilterValue() string { return fmt.Sprintf("mesh %d %d faces", i.Index, i.Faces) }

type modelState int

const (
	stateBrowse modelState = iota
	stateLevel
	stateShowResult
)

type browserModel struct {
	ctx    context.Context
	err    error
	c      *ufbx.Context
	scene  *ufbx.Scene
	rep    *report
	file   string
	result string
	list   list.Model
	level  textinput.Model
	state  modelState
}

type loadedMsg struct {
	err error
	rep *report
}

type subdivideMsg struct {
	err    error
	result string
}

func newBrowserModel(ctx context.Context, c *ufbx.Context, scene *ufbx.Scene, file string) *browserModel {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = file
	l.Styles.Title = titleStyle
	l.SetStatusBarItemName("mesh", "meshes")

	ti := textinput.New()
	ti.Placeholder = "1-4"
	ti.Prompt = "subdivision level: "
	ti.CharLimit = 2
	ti.Width = 20

	return &browserModel{
		ctx:   ctx,
		c:     c,
		scene: scene,
		file:  file,
		list:  l,
		level: ti,
	}
}

func (m *browserModel) Init() tea.Cmd {
	return m.collect
}

func (m *browserModel) collect() tea.Msg {
	rep, err := collect(m.ctx, m.scene, m.file)
	return loadedMsg{err: err, rep: rep}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rep = msg.rep
		items := make([]list.Item, len(msg.rep.Meshes))
		for i, mr := range msg.rep.Meshes {
			items[i] = meshItem{mr}
		}
		return m, m.list.SetItems(items)

	case subdivideMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case stateLevel:
			switch msg.String() {
			case "esc":
				m.state = stateBrowse
				m.level.Blur()
				return m, nil
			case "enter":
				m.level.Blur()
				return m, m.subdivide
			}
			var cmd tea.Cmd
			m.level, cmd = m.level.Update(msg)
			return m, cmd

		case stateShowResult:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "enter", "esc":
				m.state = stateBrowse
				m.result = ""
				m.err = nil
			}
			return m, nil
		}

		if m.list.FilterState() != list.Filtering {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "s":
				if _, ok := m.list.SelectedItem().(meshItem); ok {
					m.state = stateLevel
					m.level.SetValue("")
					return m, m.level.Focus()
				}
			}
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// subdivide subdivides the selected mesh and reports the result size.
func (m *browserModel) subdivide() tea.Msg {
	item, ok := m.list.SelectedItem().(meshItem)
	if !ok {
		return subdivideMsg{err: fmt.Errorf("no mesh selected")}
	}
	level, err := strconv.ParseUint(strings.TrimSpace(m.level.Value()), 10, 32)
	if err != nil {
		return subdivideMsg{err: fmt.Errorf("level: %w", err)}
	}

	mesh, err := m.scene.Mesh(m.ctx, item.Index)
	if err != nil {
		return subdivideMsg{err: err}
	}
	defer mesh.Close(m.ctx)

	sub, err := mesh.Subdivide(m.ctx, uint32(level), &config.SubdivideOpts{
		Boundary: config.BoundarySharpCorners,
	})
	if err != nil {
		return subdivideMsg{err: describe(m.ctx, m.c, err)}
	}
	defer sub.Close(m.ctx)

	info, err := sub.Info(m.ctx)
	if err != nil {
		return subdivideMsg{err: err}
	}
	return subdivideMsg{result: fmt.Sprintf("mesh %d at level %d: %d faces, %d triangles, %d vertices",
		item.Index, level, info.Faces, info.Triangles, info.Vertices)}
}

func (m *browserModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}
	if m.rep == nil {
		return "Reading scene..."
	}

	switch m.state {
	case stateLevel:
		item, _ := m.list.SelectedItem().(meshItem)
		var b strings.Builder
		b.WriteString(titleStyle.Render(fmt.Sprintf("Subdivide mesh %d", item.Index)))
		b.WriteString("\n\n")
		b.WriteString(m.level.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter subdivide • esc back"))
		return b.String()

	case stateShowResult:
		var b strings.Builder
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
		return b.String()
	}

	return m.list.View() + "\n" + helpStyle.Render(fmt.Sprintf("%s %d • s subdivide",
		typeStyle.Render(m.rep.Format), m.rep.Version))
}

func runInteractive(ctx context.Context, c *ufbx.Context, scene *ufbx.Scene, file string) error {
	p := tea.NewProgram(newBrowserModel(ctx, c, scene, file), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/spotizerr-dev/spotizerr-sub000/download/queue"
	"github.com/spotizerr-dev/spotizerr-sub000/download/task"
)

const (
	monitorPollInterval = 1 * time.Second
	maxTasksInView      = 15
)

// monitorMsg carries one poll result from the fetch goroutine.
type monitorMsg struct {
	List *TaskListResponse
	Err  error
}

// monitorModel is the Bubble Tea model for the live queue view.
type monitorModel struct {
	serverURL string
	list      *TaskListResponse
	err       error
	fetchedAt time.Time
	ch        chan monitorMsg
	width     int
	height    int
}

func newMonitorModel(serverURL string, ch chan monitorMsg) *monitorModel {
	return &monitorModel{serverURL: serverURL, ch: ch}
}

func (m *monitorModel) Init() tea.Cmd {
	return m.waitForMsg()
}

func (m *monitorModel) waitForMsg() tea.Cmd {
	return func() tea.Msg {
		return <-m.ch
	}
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, m.waitForMsg()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, m.waitForMsg()
	case monitorMsg:
		m.list = msg.List
		m.err = msg.Err
		m.fetchedAt = time.Now()
		return m, m.waitForMsg()
	default:
		return m, m.waitForMsg()
	}
}

// statusOrder fixes the rendering order of the per-status counters.
var statusOrder = []task.Status{
	task.StatusQueued,
	task.StatusInitializing,
	task.StatusProcessing,
	task.StatusDownloading,
	task.StatusProgress,
	task.StatusRealTime,
	task.StatusTrackProgress,
	task.StatusTrackComplete,
	task.StatusRetrying,
	task.StatusSkipped,
	task.StatusDone,
	task.StatusComplete,
	task.StatusError,
	task.StatusCancelled,
}

func (m *monitorModel) View() string {
	var b strings.Builder
	b.WriteString("  spotizerr queue\n\n")

	if m.err != nil {
		b.WriteString("  Server unreachable: " + truncate(m.err.Error(), 70) + "\n")
		b.WriteString("  " + m.serverURL + "\n\n")
		b.WriteString("  Press q to quit.\n")
		return b.String()
	}
	if m.list == nil {
		b.WriteString("  Connecting to " + m.serverURL + "...\n")
		return b.String()
	}

	counts := make(map[task.Status]int)
	for _, t := range m.list.Tasks {
		counts[t.Status]++
	}
	b.WriteString(fmt.Sprintf("  Tracked: %d", m.list.Count))
	for _, status := range statusOrder {
		if n := counts[status]; n > 0 {
			b.WriteString(fmt.Sprintf("  %s: %d", status, n))
		}
	}
	if m.list.Paused {
		b.WriteString("  [PAUSED]")
	}
	b.WriteString("\n\n")

	tasks := make([]queue.TaskSummary, len(m.list.Tasks))
	copy(tasks, m.list.Tasks)
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Timestamp.After(tasks[j].Timestamp)
	})
	shown := tasks
	if len(shown) > maxTasksInView {
		shown = shown[:maxTasksInView]
	}
	for _, t := range shown {
		b.WriteString(fmt.Sprintf("  %-14s  %-8s  %s\n",
			t.Status, t.Kind, truncate(formatDisplay(t.Display.Name, t.Display.Artist), 60)))
	}
	if extra := len(tasks) - len(shown); extra > 0 {
		b.WriteString(fmt.Sprintf("  ... and %d more\n", extra))
	}

	b.WriteString("\n  Updated " + m.fetchedAt.Format("15:04:05") + ". Press q to quit.\n")
	return b.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// RunMonitorTUI polls the server and renders the queue until the user quits.
func RunMonitorTUI(client *Client) error {
	ch := make(chan monitorMsg)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			list, err := client.Tasks()
			select {
			case ch <- monitorMsg{List: list, Err: err}:
			case <-done:
				return
			}
			select {
			case <-time.After(monitorPollInterval):
			case <-done:
				return
			}
		}
	}()

	p := tea.NewProgram(newMonitorModel(client.baseURL, ch), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

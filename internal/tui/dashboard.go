// Package tui provides the terminal dashboard for a foreman run.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/orchestrator"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)
	stateStyles = map[models.RunStatus]lipgloss.Style{
		models.RunRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		models.RunFinishing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		models.RunStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Bold(true),
		models.RunCrashed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	headerRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Underline(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

// statusTickMsg triggers a status snapshot refresh.
type statusTickMsg time.Time

// eventMsg wraps one orchestrator event.
type eventMsg orchestrator.Event

// eventsClosedMsg signals the event stream ended.
type eventsClosedMsg struct{}

// logLine is one rendered entry of the activity feed.
type logLine struct {
	at   time.Time
	text string
	warn bool
}

// Dashboard is the bubbletea model showing a live run.
type Dashboard struct {
	orch    *orchestrator.Orchestrator
	refresh time.Duration

	spin     spinner.Model
	status   orchestrator.Status
	logs     []logLine
	width    int
	quitting bool
}

// NewDashboard creates a dashboard bound to a run.
func NewDashboard(orch *orchestrator.Orchestrator, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	return &Dashboard{
		orch:    orch,
		refresh: refresh,
		spin:    sp,
		width:   80,
	}
}

// Run starts the dashboard and blocks until it exits.
func (d *Dashboard) Run() error {
	_, err := tea.NewProgram(d, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spin.Tick, d.tickStatus(), d.nextEvent())
}

func (d *Dashboard) tickStatus() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (d *Dashboard) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.orch.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		case "s":
			d.orch.SoftStop()
			d.log("drain requested: finishing in-flight sessions", true)
		case "K":
			d.orch.HardStop()
			d.log("hard stop requested: killing all sessions", true)
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width

	case statusTickMsg:
		// Keep refreshing after the run stops so the operator can read
		// the ending; q closes the dashboard.
		d.status = d.orch.Status()
		return d, d.tickStatus()

	case eventMsg:
		d.logEvent(orchestrator.Event(msg))
		return d, d.nextEvent()

	case eventsClosedMsg:
		return d, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd
	}
	return d, nil
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	st := d.status
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("foreman"),
		"  ",
		d.stateBadge(st),
		dimStyle.Render(fmt.Sprintf("  run %s", st.RunID)),
	)

	progress := fmt.Sprintf("features: %d/%d passing   in progress: %d   awaiting verification: %d",
		st.Passing, st.Total, st.InProgress, st.PendingVerification)

	sections := []string{
		header,
		"",
		dimStyle.Render(progress),
		"",
		d.slotTable(st),
		"",
		d.activityFeed(),
		footerStyle.Render("q quit dashboard   s drain and stop   K kill everything"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (d *Dashboard) stateBadge(st orchestrator.Status) string {
	style, ok := stateStyles[st.State]
	if !ok {
		style = dimStyle
	}
	label := string(st.State)
	if st.State == models.RunRunning || st.State == models.RunFinishing {
		label = d.spin.View() + label
	}
	if st.State == models.RunStopped && st.Reason != "" {
		label += " (" + string(st.Reason) + ")"
	}
	return style.Render(label)
}

func (d *Dashboard) slotTable(st orchestrator.Status) string {
	rows := []string{headerRowStyle.Render(fmt.Sprintf("%-5s %-12s %-10s %-8s %s", "slot", "role", "state", "uptime", "features"))}

	if len(st.Slots) == 0 {
		rows = append(rows, dimStyle.Render("no active sessions"))
	}
	for _, sl := range st.Slots {
		uptime := "-"
		if !sl.StartedAt.IsZero() {
			uptime = time.Since(sl.StartedAt).Truncate(time.Second).String()
		}
		rows = append(rows, fmt.Sprintf("%-5d %-12s %-10s %-8s %v",
			sl.Index, sl.Role, sl.State, uptime, sl.FeatureIDs))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (d *Dashboard) activityFeed() string {
	const keep = 8
	start := 0
	if len(d.logs) > keep {
		start = len(d.logs) - keep
	}

	rows := []string{headerRowStyle.Render("activity")}
	if len(d.logs) == 0 {
		rows = append(rows, dimStyle.Render("waiting for events"))
	}
	for _, l := range d.logs[start:] {
		line := fmt.Sprintf("%s  %s", l.at.Format("15:04:05"), l.text)
		if l.warn {
			line = warnStyle.Render(line)
		}
		rows = append(rows, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (d *Dashboard) log(text string, warn bool) {
	d.logs = append(d.logs, logLine{at: time.Now(), text: text, warn: warn})
}

func (d *Dashboard) logEvent(ev orchestrator.Event) {
	warn := false
	var text string
	switch ev.Type {
	case orchestrator.EventRunStarted:
		text = "run started"
	case orchestrator.EventRunStopped:
		text = "run stopped " + ev.Message
	case orchestrator.EventSessionSpawned:
		text = fmt.Sprintf("slot %d: %s session started on %v", ev.Slot, ev.Role, ev.FeatureIDs)
	case orchestrator.EventSessionDone:
		text = fmt.Sprintf("slot %d: %s session finished (%s)", ev.Slot, ev.Role, ev.Outcome)
		warn = ev.Outcome != models.OutcomeSuccess
	case orchestrator.EventFeatureCompleted:
		text = fmt.Sprintf("feature %v completed", ev.FeatureIDs)
	case orchestrator.EventFeatureAbandoned:
		text = fmt.Sprintf("feature %v released after %s", ev.FeatureIDs, ev.Outcome)
		warn = true
	case orchestrator.EventWorkerStuck:
		text = fmt.Sprintf("slot %d looks stuck: %s", ev.Slot, ev.Message)
		warn = true
	case orchestrator.EventBlockedWork:
		text = ev.Message
		warn = true
	case orchestrator.EventStoreTrouble:
		text = fmt.Sprintf("store error: %v", ev.Err)
		warn = true
	case orchestrator.EventSoftStop:
		text = "drain requested"
		warn = true
	case orchestrator.EventHardStop:
		text = "hard stop requested"
		warn = true
	default:
		text = string(ev.Type)
	}
	d.logs = append(d.logs, logLine{at: ev.Timestamp, text: text, warn: warn})
}

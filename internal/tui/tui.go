// Package tui provides the Bubble Tea dashboard: repository search results, their
// Dependabot alerts and a streamed AI remediation suggestion for the selected alert.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AlertSource finds repositories and loads their alerts.
type AlertSource interface {
	SearchRepos(ctx context.Context, org, query string) (domain.SearchResult, error)
	ListAlerts(ctx context.Context, fullName string) ([]domain.Alert, error)
}

// Assistant runs suggestion sessions. *assist.Manager satisfies it.
type Assistant interface {
	RequestAssistance(ctx context.Context, alert domain.Alert) (*assist.Assistance, error)
	CancelActive()
	ClearCache(ctx context.Context)
}

type view int

const (
	viewRepos view = iota
	viewAlerts
	viewSuggestion
)

// ── Messages ─────────────

type reposLoadedMsg struct {
	result domain.SearchResult
	err    error
}

type alertsLoadedMsg struct {
	repo   string
	alerts []domain.Alert
	err    error
}

type assistanceMsg struct {
	gen int
	a   *assist.Assistance
	err error
}

// streamEventMsg carries one event; closed is set once the channel is exhausted.
type streamEventMsg struct {
	gen    int
	events <-chan assist.StreamEvent
	ev     assist.StreamEvent
	closed bool
}

type cacheClearedMsg struct{}

// ── Model ────────────────────

// Model is the root Bubble Tea model.
type Model struct {
	ctx       context.Context
	source    AlertSource
	assistant Assistant
	org       string
	query     string

	view    view
	loading bool
	notice  string
	err     error

	result      domain.SearchResult
	repoCursor  int
	repo        string
	alerts      []domain.Alert
	alertCursor int

	alert   domain.Alert
	gen     int
	state   assist.State
	cached  bool
	text    string
	failure *assist.Error

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
}

// New creates the dashboard model for org and query.
func New(ctx context.Context, source AlertSource, assistant Assistant, org, query string) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))
	return Model{
		ctx:       ctx,
		source:    source,
		assistant: assistant,
		org:       org,
		query:     query,
		loading:   true,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
		width:     80,
		height:    24,
	}
}

// ── Commands ─────────────

func (m Model) searchCmd() tea.Cmd {
	ctx, source, org, query := m.ctx, m.source, m.org, m.query
	return func() tea.Msg {
		result, err := source.SearchRepos(ctx, org, query)
		return reposLoadedMsg{result: result, err: err}
	}
}

func (m Model) loadAlertsCmd(repo string) tea.Cmd {
	ctx, source := m.ctx, m.source
	return func() tea.Msg {
		alerts, err := source.ListAlerts(ctx, repo)
		return alertsLoadedMsg{repo: repo, alerts: alerts, err: err}
	}
}

func (m Model) requestCmd(gen int, alert domain.Alert) tea.Cmd {
	ctx, assistant := m.ctx, m.assistant
	return func() tea.Msg {
		a, err := assistant.RequestAssistance(ctx, alert)
		return assistanceMsg{gen: gen, a: a, err: err}
	}
}

// waitForEvent delivers the next session event as a message.
func waitForEvent(gen int, events <-chan assist.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return streamEventMsg{gen: gen, events: events, ev: ev, closed: !ok}
	}
}

func (m Model) clearCacheCmd() tea.Cmd {
	ctx, assistant := m.ctx, m.assistant
	return func() tea.Msg {
		assistant.ClearCache(ctx)
		return cacheClearedMsg{}
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.searchCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(m.height-chromeRows, 1)
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case reposLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.result = msg.result
		m.repoCursor = 0
		return m, nil

	case alertsLoadedMsg:
		if msg.repo != m.repo {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		m.alerts = msg.alerts
		m.alertCursor = 0
		return m, nil

	case assistanceMsg:
		return m.handleAssistance(msg)

	case streamEventMsg:
		return m.handleStreamEvent(msg)

	case cacheClearedMsg:
		m.notice = "Suggestion cache cleared."
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.assistant.CancelActive()
		return m, tea.Quit
	case "x":
		return m, m.clearCacheCmd()
	}

	switch m.view {
	case viewRepos:
		return m.handleReposKey(msg)
	case viewAlerts:
		return m.handleAlertsKey(msg)
	default:
		return m.handleSuggestionKey(msg)
	}
}

func (m Model) handleReposKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.repoCursor > 0 {
			m.repoCursor--
		}
	case "down", "j":
		if m.repoCursor < len(m.result.Repos)-1 {
			m.repoCursor++
		}
	case "enter":
		if len(m.result.Repos) == 0 {
			return m, nil
		}
		m.repo = m.result.Repos[m.repoCursor].FullName
		m.view = viewAlerts
		m.alerts = nil
		m.loading = true
		m.err = nil
		m.notice = ""
		return m, m.loadAlertsCmd(m.repo)
	}
	return m, nil
}

func (m Model) handleAlertsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.alertCursor > 0 {
			m.alertCursor--
		}
	case "down", "j":
		if m.alertCursor < len(m.alerts)-1 {
			m.alertCursor++
		}
	case "esc":
		m.view = viewRepos
		m.err = nil
		m.notice = ""
	case "enter":
		if len(m.alerts) == 0 {
			return m, nil
		}
		m.alert = m.alerts[m.alertCursor]
		m.view = viewSuggestion
		return m.startRequest()
	}
	return m, nil
}

func (m Model) handleSuggestionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.busy() {
			m.assistant.CancelActive()
		}
		m.view = viewAlerts
		m.notice = ""
		return m, nil
	case "c":
		if m.busy() {
			m.assistant.CancelActive()
		}
		return m, nil
	case "r":
		if m.state == assist.StateFailed && m.failure != nil && m.failure.Kind.Retryable() {
			return m.startRequest()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// startRequest begins a new suggestion for m.alert. Events of earlier requests are
// still drained but no longer rendered.
func (m Model) startRequest() (tea.Model, tea.Cmd) {
	m.gen++
	m.state = assist.StateRequesting
	m.text = ""
	m.cached = false
	m.failure = nil
	m.notice = ""
	m.refreshViewport()
	return m, tea.Batch(m.requestCmd(m.gen, m.alert), m.spinner.Tick)
}

func (m Model) handleAssistance(msg assistanceMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if msg.gen != m.gen {
			return m, nil
		}
		var aerr *assist.Error
		if errors.As(msg.err, &aerr) && aerr.Kind == assist.KindAlreadyInProgress {
			m.state = assist.StateIdle
			m.notice = aerr.Error()
			return m, nil
		}
		m.state = assist.StateFailed
		m.failure = &assist.Error{Kind: assist.KindUnknownAPIError, Detail: msg.err.Error()}
		return m, nil
	}
	if msg.gen == m.gen {
		m.cached = msg.a.Cached
	}
	return m, waitForEvent(msg.gen, msg.a.Events)
}

func (m Model) handleStreamEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if msg.closed {
		return m, nil
	}
	next := waitForEvent(msg.gen, msg.events)
	if msg.ev.Terminal() {
		next = nil
	}
	if msg.gen != m.gen {
		return m, next
	}

	switch msg.ev.Type {
	case assist.EventPartial:
		m.state = assist.StateStreaming
		m.text = msg.ev.Text
	case assist.EventCompleted:
		m.state = assist.StateCompleted
		m.text = msg.ev.Text
	case assist.EventFailed:
		m.state = assist.StateFailed
		m.failure = msg.ev.Err()
	case assist.EventCancelled:
		m.state = assist.StateCancelled
	}
	m.refreshViewport()
	if msg.ev.Type == assist.EventPartial {
		m.viewport.GotoBottom()
	}
	return m, next
}

func (m Model) busy() bool {
	return m.state == assist.StateRequesting || m.state == assist.StateStreaming
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(wrap(m.text, m.viewport.Width-2))
}

// ── View ─────────────────

// title(1) + blank(1) + alert header(2) + status(1) + hint(1)
const chromeRows = 6

func (m Model) View() string {
	title := titleStyle.Width(m.width).Render(fmt.Sprintf("  vulndash  %s / %s", m.org, m.query))

	var body string
	switch m.view {
	case viewRepos:
		body = m.renderRepos()
	case viewAlerts:
		body = m.renderAlerts()
	default:
		body = m.renderSuggestion()
	}

	footer := hintStyle.Render(m.hint())
	if m.notice != "" {
		footer = noticeStyle.Render("  "+m.notice) + "\n" + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, "", body, footer)
}

func (m Model) hint() string {
	switch m.view {
	case viewRepos:
		return "  ↑/↓ select  enter alerts  x clear cache  q quit"
	case viewAlerts:
		return "  ↑/↓ select  enter suggest  esc back  x clear cache  q quit"
	}
	hint := "  ↑/↓ scroll  esc back  x clear cache  q quit"
	if m.busy() {
		hint = "  c cancel" + hint
	}
	if m.state == assist.StateFailed && m.failure != nil && m.failure.Kind.Retryable() {
		hint = "  r retry" + hint
	}
	return hint
}

func (m Model) renderRepos() string {
	var sb strings.Builder
	if m.loading {
		sb.WriteString("  " + m.spinner.View() + " Searching repositories…\n")
		return sb.String()
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
		return sb.String()
	}
	s := m.result.Summary
	sb.WriteString(sectionHeader.Render(fmt.Sprintf("  Repositories (%d)", s.ReposFound)) + "  ")
	sb.WriteString(countsLine(s.SeverityCounts) + "\n\n")
	if len(m.result.Repos) == 0 {
		sb.WriteString(dimStyle.Render("  (no matching repositories)") + "\n")
		return sb.String()
	}
	for i, r := range m.result.Repos {
		row := fmt.Sprintf("%s %-40s %s", severityBadge(r.Severity), r.FullName, countsLine(r.Counts))
		sb.WriteString(selectRow(row, i == m.repoCursor, m.width) + "\n")
	}
	return sb.String()
}

func (m Model) renderAlerts() string {
	var sb strings.Builder
	sb.WriteString(sectionHeader.Render("  "+m.repo) + "\n\n")
	if m.loading {
		sb.WriteString("  " + m.spinner.View() + " Loading alerts…\n")
		return sb.String()
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render("  "+m.err.Error()) + "\n")
		return sb.String()
	}
	if len(m.alerts) == 0 {
		sb.WriteString(dimStyle.Render("  (no open alerts)") + "\n")
		return sb.String()
	}
	for i, a := range m.alerts {
		row := fmt.Sprintf("%s %-24s %s", severityBadge(a.Severity), a.Package, a.Vulnerability)
		sb.WriteString(selectRow(row, i == m.alertCursor, m.width) + "\n")
	}
	return sb.String()
}

func (m Model) renderSuggestion() string {
	var sb strings.Builder
	a := m.alert
	sb.WriteString(severityBadge(a.Severity) + " " + labelStyle.Render(a.Package) + "  " + a.Vulnerability + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  patched in %s · fix in %s", a.PatchedIn, a.ApplyFixIn)) + "\n")
	sb.WriteString(m.statusLine() + "\n")
	sb.WriteString(m.viewport.View())
	return sb.String()
}

func (m Model) statusLine() string {
	switch m.state {
	case assist.StateRequesting:
		return "  " + m.spinner.View() + " Requesting suggestion…"
	case assist.StateStreaming:
		return "  " + m.spinner.View() + " Streaming…"
	case assist.StateCompleted:
		if m.cached {
			return successStyle.Render("  ✔ Completed (cached)")
		}
		return successStyle.Render("  ✔ Completed")
	case assist.StateFailed:
		if m.failure == nil {
			return errorStyle.Render("  ✘ Failed")
		}
		return errorStyle.Render("  ✘ " + m.failure.Error())
	case assist.StateCancelled:
		return dimStyle.Render("  Cancelled")
	default:
		return dimStyle.Render("  Idle")
	}
}

// Run starts the dashboard TUI.
func Run(ctx context.Context, source AlertSource, assistant Assistant, org, query string) error {
	p := tea.NewProgram(New(ctx, source, assistant, org, query), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

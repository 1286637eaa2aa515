package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/movie-recommender/internal/service"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobFetcher returns the current state of a job.
type jobFetcher func(ctx context.Context, id string) (*service.JobInfo, error)

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *service.JobInfo
	err error
}

// progressModel is the bubbletea model for embedding job progress.
type progressModel struct {
	fetch      jobFetcher
	jobID      string
	job        *service.JobInfo
	progress   progress.Model
	theme      Theme
	background bool // job survives the UI exiting
	done       bool
	quitting   bool
	err        error
}

func newProgressModel(fetch jobFetcher, job *service.JobInfo, background bool) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		fetch:      fetch,
		jobID:      job.ID,
		job:        job,
		progress:   prog,
		theme:      defaultTheme,
		background: background,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		switch m.job.Status {
		case service.JobStatusCompleted:
			m.done = true
			return m, tea.Quit
		case service.JobStatusFailed:
			m.done = true
			m.err = jobError(m.job)
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(fraction(m.job))
	counts := fmt.Sprintf("%d/%d rows", m.job.Progress, m.job.Total)

	hint := "Press Ctrl+C to cancel"
	if m.background {
		hint = "Press Ctrl+C to continue in background"
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, m.theme.hintStyle().Render(hint))
}

func (m progressModel) finalView() string {
	if m.quitting {
		if !m.background {
			return m.theme.hintStyle().Render("\nEmbedding build cancelled.\n")
		}
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'movierec jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Result != nil {
		var b strings.Builder
		b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
		writeBuildResult(&b, m.job.Result, "  ")
		return b.String()
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchJob runs in a command goroutine so Update never blocks.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.fetch(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fraction is the completed share of a job, 0 before the total is known.
func fraction(job *service.JobInfo) float64 {
	if job.Total <= 0 {
		return 0
	}
	return float64(job.Progress) / float64(job.Total)
}

func jobError(job *service.JobInfo) error {
	if job.Error != "" {
		return fmt.Errorf("%s", job.Error)
	}
	return fmt.Errorf("job failed with unknown error")
}

// RunJobProgress runs the interactive progress UI for a job.
// Returns nil on success or Ctrl+C, the job error on failure.
func RunJobProgress(fetch jobFetcher, job *service.JobInfo, background bool) error {
	p := tea.NewProgram(newProgressModel(fetch, job, background))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}

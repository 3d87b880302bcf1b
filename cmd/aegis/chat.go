// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Interactive chat interface built on bubbletea.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/provider"
	"github.com/aegis-dev/aegis/internal/store"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent",
		Long:  "Send one message to the agent, or start an interactive session when no message is given.",
		RunE:  runChat,
	}

	cmd.Flags().StringP("session", "s", "", "resume an existing session by ID")

	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := WireApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
		if err := app.Store.CreateSession(cmd.Context(), &store.Session{ID: sessionID}); err != nil {
			return err
		}
	}
	state, err := app.Store.LoadState(cmd.Context(), sessionID)
	if err != nil {
		return err
	}

	// One-shot mode: run a single turn and print the produced messages.
	if len(args) > 0 {
		produced, err := app.Orchestrator.Turn(cmd.Context(), state, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if err := app.Store.SaveState(cmd.Context(), sessionID, state); err != nil {
			return err
		}
		for _, msg := range produced {
			fmt.Fprintln(cmd.OutOrStdout(), renderMessage(msg, plainStyles()))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n(session %s)\n", sessionID)
		return nil
	}

	model := newChatModel(cmd.Context(), app, sessionID, state)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// --- Styles ---

type chatStyles struct {
	user       lipgloss.Style
	assistant  lipgloss.Style
	tool       lipgloss.Style
	disclosure lipgloss.Style
	advisory   lipgloss.Style
	status     lipgloss.Style
}

func defaultStyles() chatStyles {
	return chatStyles{
		user:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		assistant:  lipgloss.NewStyle(),
		tool:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		disclosure: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		advisory:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		status:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
	}
}

// plainStyles renders without terminal decoration, for one-shot output.
func plainStyles() chatStyles {
	plain := lipgloss.NewStyle()
	return chatStyles{plain, plain, plain, plain, plain, plain}
}

func renderMessage(msg provider.Message, styles chatStyles) string {
	switch {
	case msg.Role == provider.MessageRoleUser:
		return styles.user.Render("You: ") + msg.Content
	case msg.Role == provider.MessageRoleTool:
		return styles.tool.Render(fmt.Sprintf("[%s] %s", msg.ToolName, msg.Content))
	case msg.Kind == provider.KindDisclosure:
		return styles.disclosure.Render(msg.Content)
	case msg.Kind == provider.KindAdvisory:
		return styles.advisory.Render(msg.Content)
	default:
		text := msg.Content
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			suffix := styles.status.Render(fmt.Sprintf("(calling %s)", strings.Join(names, ", ")))
			if text == "" {
				return suffix
			}
			return text + "\n" + suffix
		}
		return text
	}
}

// --- Model ---

type turnResultMsg []provider.Message

type turnErrorMsg struct{ err error }

type chatModel struct {
	ctx       context.Context
	app       *App
	sessionID string
	state     *agent.State

	textinput textinput.Model
	viewport  viewport.Model
	styles    chatStyles

	lines     []string
	isLoading bool
	err       error
	ready     bool
}

func newChatModel(ctx context.Context, app *App, sessionID string, state *agent.State) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask me anything... (Enter to send, Ctrl+C to exit)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096

	styles := defaultStyles()

	var lines []string
	for _, msg := range state.History {
		if msg.Role == provider.MessageRoleSystem {
			continue
		}
		lines = append(lines, renderMessage(msg, styles), "")
	}

	return chatModel{
		ctx:       ctx,
		app:       app,
		sessionID: sessionID,
		state:     state,
		textinput: ti,
		viewport:  viewport.New(80, 20),
		styles:    styles,
		lines:     lines,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.isLoading {
				return m.submit()
			}
		}
		if !m.isLoading {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		headerHeight := 2
		inputHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, msg.Height-headerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = msg.Height - headerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 4
		m.refreshViewport()

	case turnResultMsg:
		m.isLoading = false
		for _, produced := range msg {
			m.lines = append(m.lines, renderMessage(produced, m.styles), "")
		}
		m.refreshViewport()

	case turnErrorMsg:
		m.isLoading = false
		m.err = msg.err
		m.lines = append(m.lines, m.styles.advisory.Render("Error: "+msg.err.Error()), "")
		m.refreshViewport()
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.textinput.Value())
	if text == "" {
		return m, nil
	}

	m.textinput.Reset()
	m.isLoading = true
	m.lines = append(m.lines, m.styles.user.Render("You: ")+text, "")
	m.refreshViewport()

	return m, func() tea.Msg {
		produced, err := m.app.Orchestrator.Turn(m.ctx, m.state, text)
		if err != nil {
			return turnErrorMsg{err: err}
		}
		if err := m.app.Store.SaveState(m.ctx, m.sessionID, m.state); err != nil {
			return turnErrorMsg{err: err}
		}
		return turnResultMsg(produced)
	}
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	status := fmt.Sprintf("aegis · session %s", m.sessionID)
	if m.isLoading {
		status += " · thinking..."
	}
	if m.state.AwaitingConfirmation {
		status += " · awaiting confirmation (yes/y/approve to proceed)"
	}

	return m.styles.status.Render(status) + "\n\n" +
		m.viewport.View() + "\n\n" +
		m.textinput.View()
}

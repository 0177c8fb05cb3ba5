// Package tui provides a terminal user interface for browsing and editing the
// lists and tasks of one provider.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"done/backend"
)

// Store is the subset of backend.Provider the interface drives.
type Store interface {
	ReadAllLists(ctx context.Context) ([]backend.List, error)
	ReadTasksFromList(ctx context.Context, listID string) ([]backend.Task, error)
	CreateTask(ctx context.Context, task *backend.Task) (*backend.Task, error)
	UpdateTask(ctx context.Context, task *backend.Task) (*backend.Task, error)
	DeleteTask(ctx context.Context, listID, taskID string) error
}

// Focus indicates which pane has focus
type Focus int

const (
	FocusLists Focus = iota
	FocusTasks
)

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeEdit
	ModeFilter
	ModeHelp
	ModeConfirmDelete
)

// Model represents the TUI state
type Model struct {
	store Store
	ctx   context.Context
	title string

	// Data
	lists       []backend.List
	tasks       []backend.Task
	filteredIdx []int // indices into tasks for the filtered view
	lastErr     error

	// Selection
	listCursor int
	taskCursor int
	focus      Focus

	// Mode and input
	mode      Mode
	textInput textinput.Model
	filter    string

	width  int
	height int

	listPaneStyle  lipgloss.Style
	taskPaneStyle  lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	subtaskStyle   lipgloss.Style
	helpStyle      lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
	errorStyle     lipgloss.Style
}

type listsLoadedMsg struct {
	lists []backend.List
}

type tasksLoadedMsg struct {
	listID string
	tasks  []backend.Task
}

type taskCreatedMsg struct {
	task *backend.Task
}

type taskUpdatedMsg struct {
	task *backend.Task
}

type taskDeletedMsg struct {
	taskID string
}

type errMsg struct {
	err error
}

// Option customizes a Model.
type Option func(*Model)

// WithContext sets the context passed to every store call.
func WithContext(ctx context.Context) Option {
	return func(m *Model) { m.ctx = ctx }
}

// WithTitle names the provider in the status bar.
func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

// New creates a new TUI model over s.
func New(s Store, opts ...Option) *Model {
	ti := textinput.New()
	ti.Placeholder = "Enter text..."
	ti.CharLimit = 255

	m := &Model{
		store:     s,
		ctx:       context.Background(),
		textInput: ti,
		focus:     FocusLists,
		mode:      ModeNormal,
		listPaneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		taskPaneStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		subtaskStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return m.loadLists()
}

func (m *Model) currentList() (backend.List, bool) {
	if len(m.lists) == 0 || m.listCursor >= len(m.lists) {
		return backend.List{}, false
	}
	return m.lists[m.listCursor], true
}

// selectedTask returns a copy of the task under the cursor.
func (m *Model) selectedTask() (backend.Task, bool) {
	if len(m.filteredIdx) == 0 || m.taskCursor >= len(m.filteredIdx) {
		return backend.Task{}, false
	}
	return m.tasks[m.filteredIdx[m.taskCursor]], true
}

func (m *Model) loadLists() tea.Cmd {
	return func() tea.Msg {
		lists, err := m.store.ReadAllLists(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return listsLoadedMsg{lists}
	}
}

func (m *Model) loadTasks() tea.Cmd {
	list, ok := m.currentList()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		tasks, err := m.store.ReadTasksFromList(m.ctx, list.ID)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{listID: list.ID, tasks: tasks}
	}
}

func (m *Model) createTask(title string) tea.Cmd {
	list, ok := m.currentList()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		task := backend.NewTask(list.ID, title)
		created, err := m.store.CreateTask(m.ctx, &task)
		if err != nil {
			return errMsg{err}
		}
		return taskCreatedMsg{created}
	}
}

func (m *Model) updateTask(task backend.Task) tea.Cmd {
	return func() tea.Msg {
		task.Touch(time.Now())
		updated, err := m.store.UpdateTask(m.ctx, &task)
		if err != nil {
			return errMsg{err}
		}
		return taskUpdatedMsg{updated}
	}
}

func (m *Model) deleteTask(task backend.Task) tea.Cmd {
	return func() tea.Msg {
		if err := m.store.DeleteTask(m.ctx, task.Parent, task.ID); err != nil {
			return errMsg{err}
		}
		return taskDeletedMsg{task.ID}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case listsLoadedMsg:
		m.lists = msg.lists
		if m.listCursor >= len(m.lists) {
			m.listCursor = 0
		}
		return m, m.loadTasks()

	case tasksLoadedMsg:
		// Ignore answers for a list the cursor already left.
		if list, ok := m.currentList(); !ok || list.ID != msg.listID {
			return m, nil
		}
		m.tasks = msg.tasks
		m.lastErr = nil
		m.applyFilter()
		return m, nil

	case taskCreatedMsg:
		m.tasks = append(m.tasks, *msg.task)
		m.applyFilter()
		if len(m.filteredIdx) > 0 {
			m.taskCursor = len(m.filteredIdx) - 1
		}
		return m, nil

	case taskUpdatedMsg:
		for i, t := range m.tasks {
			if t.ID == msg.task.ID {
				m.tasks[i] = *msg.task
				break
			}
		}
		m.applyFilter()
		return m, nil

	case taskDeletedMsg:
		for i, t := range m.tasks {
			if t.ID == msg.taskID {
				m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
				break
			}
		}
		m.applyFilter()
		if m.taskCursor >= len(m.filteredIdx) && m.taskCursor > 0 {
			m.taskCursor--
		}
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeAdd:
			return m.handleAddMode(msg)
		case ModeEdit:
			return m.handleEditMode(msg)
		case ModeFilter:
			return m.handleFilterMode(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		}
		return m.handleNormalMode(msg)
	}

	if m.mode == ModeAdd || m.mode == ModeEdit || m.mode == ModeFilter {
		m.textInput, cmd = m.textInput.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		if m.focus == FocusLists {
			m.focus = FocusTasks
		} else {
			m.focus = FocusLists
		}

	case "up", "k":
		if m.focus == FocusLists {
			if m.listCursor > 0 {
				m.listCursor--
				m.taskCursor = 0
				return m, m.loadTasks()
			}
		} else if m.taskCursor > 0 {
			m.taskCursor--
		}

	case "down", "j":
		if m.focus == FocusLists {
			if m.listCursor < len(m.lists)-1 {
				m.listCursor++
				m.taskCursor = 0
				return m, m.loadTasks()
			}
		} else if m.taskCursor < len(m.filteredIdx)-1 {
			m.taskCursor++
		}

	case "r":
		return m, m.loadLists()

	case "a":
		if _, ok := m.currentList(); !ok {
			return m, nil
		}
		return m, m.openInput(ModeAdd, "New task title...", "")

	case "e":
		if task, ok := m.selectedTask(); ok {
			return m, m.openInput(ModeEdit, "Title...", task.Title)
		}

	case "c", " ":
		if task, ok := m.selectedTask(); ok {
			next := backend.StatusCompleted
			if task.Status == backend.StatusCompleted {
				next = backend.StatusNotStarted
			}
			task.SetStatus(next, time.Now())
			return m, m.updateTask(task)
		}

	case "d":
		if _, ok := m.selectedTask(); ok {
			m.mode = ModeConfirmDelete
		}

	case "/":
		return m, m.openInput(ModeFilter, "Search...", m.filter)

	case "?":
		m.mode = ModeHelp
	}
	return m, nil
}

func (m *Model) openInput(mode Mode, placeholder, value string) tea.Cmd {
	m.mode = mode
	m.textInput.Reset()
	m.textInput.Placeholder = placeholder
	m.textInput.SetValue(value)
	m.textInput.Focus()
	return textinput.Blink
}

func (m *Model) handleAddMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = ModeNormal
		if value := strings.TrimSpace(m.textInput.Value()); value != "" {
			return m, m.createTask(value)
		}
		return m, nil
	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleEditMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.mode = ModeNormal
		value := strings.TrimSpace(m.textInput.Value())
		if task, ok := m.selectedTask(); ok && value != "" && value != task.Title {
			task.Title = value
			return m, m.updateTask(task)
		}
		return m, nil
	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleFilterMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filter = m.textInput.Value()
		m.applyFilter()
		m.mode = ModeNormal
		return m, nil
	case tea.KeyEsc:
		m.filter = ""
		m.applyFilter()
		m.mode = ModeNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = ModeNormal
	switch msg.String() {
	case "y", "Y":
		if task, ok := m.selectedTask(); ok {
			return m, m.deleteTask(task)
		}
	}
	return m, nil
}

// applyFilter keeps tasks whose title, or the title of a sub-task, matches.
func (m *Model) applyFilter() {
	m.filteredIdx = nil
	needle := strings.ToLower(m.filter)
	for i, task := range m.tasks {
		if needle == "" || matches(task, needle) {
			m.filteredIdx = append(m.filteredIdx, i)
		}
	}
	if m.taskCursor >= len(m.filteredIdx) {
		m.taskCursor = 0
	}
}

func matches(t backend.Task, needle string) bool {
	if strings.Contains(strings.ToLower(t.Title), needle) {
		return true
	}
	for _, sub := range t.SubTasks {
		if matches(sub, needle) {
			return true
		}
	}
	return false
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeAdd:
		return m.renderInputDialog("Add Task", "Enter: confirm  Esc: cancel")
	case ModeEdit:
		title := "Edit Task"
		if task, ok := m.selectedTask(); ok {
			title = "Edit: " + task.Title
		}
		return m.renderInputDialog(title, "Enter: confirm  Esc: cancel")
	case ModeFilter:
		return m.renderInputDialog("Search/Filter Tasks", "Enter: filter  Esc: clear")
	case ModeHelp:
		return m.centerDialog(m.dialogStyle.Render(helpText))
	case ModeConfirmDelete:
		return m.centerDialog(m.dialogStyle.Render(
			"Delete selected task?\n\n" + m.helpStyle.Render("y: yes  n: no"),
		))
	}

	listWidth := m.width / 4
	taskWidth := m.width - listWidth - 4

	listPane := m.listPaneStyle.Width(listWidth).Height(m.height - 4).Render(m.renderListPane(listWidth - 4))
	taskPane := m.taskPaneStyle.Width(taskWidth).Height(m.height - 4).Render(m.renderTaskPane(taskWidth - 4))

	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPane, taskPane))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderListPane(width int) string {
	var b strings.Builder
	b.WriteString("Lists\n")
	b.WriteString(strings.Repeat("─", max(width, 0)))
	b.WriteString("\n")

	for i, list := range m.lists {
		cursor := " "
		name := list.Name
		if i == m.listCursor {
			cursor = ">"
			if m.focus == FocusLists {
				name = m.selectedStyle.Render(name)
			}
		}
		b.WriteString(cursor + " " + name + "\n")
	}
	return b.String()
}

func (m *Model) renderTaskPane(width int) string {
	var b strings.Builder
	b.WriteString("Tasks\n")
	b.WriteString(strings.Repeat("─", max(width, 0)))
	b.WriteString("\n")

	if len(m.filteredIdx) == 0 {
		b.WriteString("No tasks\n")
		return b.String()
	}
	for fi, idx := range m.filteredIdx {
		m.renderTask(&b, m.tasks[idx], fi == m.taskCursor && m.focus == FocusTasks, 0)
	}
	return b.String()
}

func (m *Model) renderTask(b *strings.Builder, task backend.Task, selected bool, depth int) {
	cursor := " "
	if selected {
		cursor = ">"
	}

	indent := ""
	if depth > 0 {
		indent = strings.Repeat("  ", depth-1) + "└─"
	}

	status := "[ ]"
	if task.Status == backend.StatusCompleted {
		status = "[✓]"
	}

	title := task.Title
	if task.Priority == backend.PriorityHigh {
		title += " !"
	}
	switch {
	case task.Status == backend.StatusCompleted:
		title = m.completedStyle.Render(title)
	case selected:
		title = m.selectedStyle.Render(title)
	case depth > 0:
		title = m.subtaskStyle.Render(title)
	}

	b.WriteString(cursor + " " + indent + status + " " + title + "\n")

	for _, sub := range task.SubTasks {
		m.renderTask(b, sub, false, depth+1)
	}
}

func (m *Model) renderStatusBar() string {
	left := m.title
	if list, ok := m.currentList(); ok {
		if left != "" {
			left += " / "
		}
		left += list.Name
	}
	if m.lastErr != nil {
		left += "  " + m.errorStyle.Render("error: "+m.lastErr.Error())
	}

	right := "q:quit  ?:help"
	if m.filter != "" {
		right = "Filter: " + m.filter + "  " + right
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) renderInputDialog(title, help string) string {
	return m.centerDialog(m.dialogStyle.Render(
		title + "\n\n" +
			m.textInput.View() + "\n\n" +
			m.helpStyle.Render(help),
	))
}

const helpText = `Help - Key Bindings

Navigation:
  j/↓    Move down
  k/↑    Move up
  Tab    Switch focus between lists/tasks
  r      Reload lists and tasks

Actions:
  a      Add new task
  e      Edit selected task title
  c      Toggle task completion
  d      Delete task (with confirm)
  /      Search/filter tasks

General:
  ?      Show this help
  q      Quit

Press any key to close`

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogWidth := 0
	for _, line := range lines {
		dialogWidth = max(dialogWidth, lipgloss.Width(line))
	}

	topPad := max((m.height-len(lines))/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", topPad))
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Run starts the interface on the terminal and blocks until the user quits.
func Run(ctx context.Context, s Store, opts ...Option) error {
	opts = append([]Option{WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(s, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

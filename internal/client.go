package internal

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lanshare/internal/storage"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	hintStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

// feedLine is one rendered row in the message log.
type feedLine struct {
	ts     time.Time
	sender string
	body   string
	system bool
}

// ClientOptions wires the TUI to the relay and its local collaborators.
type ClientOptions struct {
	ServerURL    string
	Username     string
	DownloadDir  string
	ClientIDPath string
	Store        *storage.Store
}

type clientMode int

const (
	modeNamePrompt clientMode = iota
	modeChat
)

// TUIModel holds the bubbletea state for the relay client: the input, the
// message feed, the websocket session, and the reassembly state for
// incoming chunked transfers.
type TUIModel struct {
	textInput   textinput.Model
	feed        []feedLine
	opts        ClientOptions
	username    string
	clientID    string
	sess        *clientSession
	isConnected bool
	connErr     error
	onlineCount int
	mode        clientMode
	assembler   *ChunkAssembler
	maxFeed     int
}

type (
	connectedMsg     struct{ sess *clientSession }
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	incomingMsg      []byte
	readErrorMsg     struct{ err error }
	fileSavedMsg     struct {
		filename string
		sender   string
		path     string
		err      error
	}
	fileSentMsg struct {
		filename string
		size     int64
		chunks   int
		err      error
	}
	filesListedMsg struct {
		files []storage.ReceivedFile
		err   error
	}
)

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Focus()

	username := opts.Username
	if username == "" {
		username = defaultUsername()
	}

	model := &TUIModel{
		textInput: input,
		feed:      make([]feedLine, 0, 64),
		opts:      opts,
		username:  username,
		clientID:  loadClientID(opts.ClientIDPath),
		assembler: NewChunkAssembler(),
		maxFeed:   200,
	}
	if opts.Username != "" {
		model.mode = modeChat
		model.textInput.Placeholder = "Type a message…"
		model.textInput.Prompt = "> "
	} else {
		model.mode = modeNamePrompt
		model.textInput.SetValue(username)
		model.textInput.Placeholder = "Enter display name…"
		model.textInput.Prompt = "name> "
	}
	return model
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return model.connectCmd()
	}
	return nil
}

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || typed.Type == tea.KeyEsc {
			model.sess.close()
			return model, tea.Quit
		}
		switch model.mode {
		case modeNamePrompt:
			if typed.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(model.textInput.Value())
				if trimmed == "" {
					model.appendSystem("Display name cannot be empty.")
					return model, nil
				}
				model.username = trimmed
				model.mode = modeChat
				model.textInput.SetValue("")
				model.textInput.Placeholder = "Type a message…"
				model.textInput.Prompt = "> "
				return model, model.connectCmd()
			}
			var cmd tea.Cmd
			model.textInput, cmd = model.textInput.Update(typed)
			return model, cmd
		case modeChat:
			if typed.Type == tea.KeyEnter {
				return model.handleInput(strings.TrimSpace(model.textInput.Value()))
			}
			var cmd tea.Cmd
			model.textInput, cmd = model.textInput.Update(typed)
			return model, cmd
		}

	case connectedMsg:
		model.sess = typed.sess
		model.isConnected = true
		model.connErr = nil
		return model, model.readOnceCmd()

	case connectFailedMsg:
		model.connErr = typed.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case incomingMsg:
		cmd := model.handleIncoming([]byte(typed))
		return model, tea.Batch(cmd, model.readOnceCmd())

	case readErrorMsg:
		model.isConnected = false
		model.connErr = typed.err
		model.sess.close()
		model.sess = nil
		model.appendSystem("Connection lost, retrying…")
		return model, model.scheduleReconnect()

	case fileSavedMsg:
		if typed.err != nil {
			model.appendSystem(fmt.Sprintf("Failed to save %s: %v", typed.filename, typed.err))
		} else {
			model.appendSystem(fmt.Sprintf("%s sent %s → saved to %s", typed.sender, typed.filename, typed.path))
		}
		return model, nil

	case fileSentMsg:
		if typed.err != nil {
			model.appendSystem(fmt.Sprintf("Sending %s failed: %v", typed.filename, typed.err))
		} else if typed.chunks > 0 {
			model.appendSystem(fmt.Sprintf("Shared %s (%s, %d chunks)", typed.filename, formatFileSize(typed.size), typed.chunks))
		} else {
			model.appendSystem(fmt.Sprintf("Shared %s (%s)", typed.filename, formatFileSize(typed.size)))
		}
		return model, nil

	case filesListedMsg:
		if typed.err != nil {
			model.appendSystem(fmt.Sprintf("Cannot list received files: %v", typed.err))
			return model, nil
		}
		if len(typed.files) == 0 {
			model.appendSystem("No files received yet.")
			return model, nil
		}
		for _, f := range typed.files {
			model.appendSystem(fmt.Sprintf("%s (%s) from %s — %s", f.Filename, formatFileSize(f.SizeBytes), f.Sender, f.Path))
		}
		return model, nil
	}
	return model, nil
}

// handleInput reacts to an entered line: slash commands run locally,
// everything else goes out as a text message.
func (model *TUIModel) handleInput(line string) (tea.Model, tea.Cmd) {
	if line == "" {
		return model, nil
	}
	model.textInput.SetValue("")

	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "/quit", "/exit":
			model.sess.close()
			return model, tea.Quit
		case "/send":
			if len(fields) < 2 {
				model.appendSystem("Usage: /send <path>")
				return model, nil
			}
			if !model.isConnected {
				model.appendSystem("Not connected.")
				return model, nil
			}
			return model, model.sendFileCmd(strings.Join(fields[1:], " "))
		case "/files":
			return model, model.listFilesCmd()
		default:
			model.appendSystem("Commands: /send <path>, /files, /quit")
			return model, nil
		}
	}

	if !model.isConnected {
		model.appendSystem("Not connected.")
		return model, nil
	}
	model.appendChat(model.username, line, time.Now())
	sess := model.sess
	username := model.username
	return model, func() tea.Msg {
		if err := sess.sendText(line, username, ""); err != nil {
			return readErrorMsg{err: err}
		}
		return nil
	}
}

// handleIncoming routes one payload from the relay into the feed,
// the assembler, or the presence counter.
func (model *TUIModel) handleIncoming(payload []byte) tea.Cmd {
	kind, ok := Classify(payload)
	if !ok {
		return nil
	}
	switch kind {
	case TypeText:
		var text TextMessage
		if err := json.Unmarshal(payload, &text); err == nil {
			model.appendChat(text.SenderName, text.Content, parseWireTime(text.Timestamp))
		}
	case TypeFile:
		var file FileMessage
		if err := json.Unmarshal(payload, &file); err != nil {
			return nil
		}
		if file.Content == "" {
			// metadata-only replay entry
			model.appendSystem(fmt.Sprintf("%s shared %s (%s) earlier this session", file.SenderName, file.Filename, formatFileSize(file.Filesize)))
			return nil
		}
		return model.saveFileCmd(file)
	case TypeFileChunk:
		var chunk ChunkMessage
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return nil
		}
		assembled, err := model.assembler.Add(chunk)
		if err != nil {
			model.appendSystem(fmt.Sprintf("Dropped bad chunk: %v", err))
			return nil
		}
		if assembled != nil {
			return model.saveAssembledCmd(assembled)
		}
	case TypeOnlineCount:
		var count OnlineCountMessage
		if err := json.Unmarshal(payload, &count); err == nil {
			model.onlineCount = count.Count
		}
	case TypeClientID:
		var assigned ClientIDMessage
		if err := json.Unmarshal(payload, &assigned); err == nil && assigned.ClientID != "" {
			model.clientID = assigned.ClientID
			_ = saveClientID(model.opts.ClientIDPath, assigned.ClientID)
		}
	case TypeHistory:
		var history HistoryMessage
		if err := json.Unmarshal(payload, &history); err != nil {
			return nil
		}
		for _, entry := range history.Messages {
			model.handleIncoming(entry)
		}
	}
	return nil
}

func (model *TUIModel) connectCmd() tea.Cmd {
	serverURL := model.opts.ServerURL
	clientID := model.clientID
	return func() tea.Msg {
		sess, err := dialRelay(serverURL, clientID)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{sess: sess}
	}
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) readOnceCmd() tea.Cmd {
	sess := model.sess
	return func() tea.Msg {
		if sess == nil {
			return nil
		}
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			return readErrorMsg{err: err}
		}
		return incomingMsg(payload)
	}
}

func (model *TUIModel) sendFileCmd(path string) tea.Cmd {
	sess := model.sess
	username := model.username
	return func() tea.Msg {
		filename, size, chunks, err := sess.sendFile(path, username)
		if filename == "" {
			filename = filepath.Base(path)
		}
		return fileSentMsg{filename: filename, size: size, chunks: chunks, err: err}
	}
}

func (model *TUIModel) saveFileCmd(file FileMessage) tea.Cmd {
	opts := model.opts
	return func() tea.Msg {
		data, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return fileSavedMsg{filename: file.Filename, sender: file.SenderName, err: err}
		}
		path, err := writeReceivedFile(opts, file.Filename, file.SenderName, "", data)
		return fileSavedMsg{filename: file.Filename, sender: file.SenderName, path: path, err: err}
	}
}

func (model *TUIModel) saveAssembledCmd(assembled *AssembledFile) tea.Cmd {
	opts := model.opts
	return func() tea.Msg {
		path, err := writeReceivedFile(opts, assembled.Filename, assembled.SenderName, assembled.FileID, assembled.Data)
		return fileSavedMsg{filename: assembled.Filename, sender: assembled.SenderName, path: path, err: err}
	}
}

func (model *TUIModel) listFilesCmd() tea.Cmd {
	store := model.opts.Store
	return func() tea.Msg {
		if store == nil {
			return filesListedMsg{err: fmt.Errorf("ledger disabled")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		files, err := store.ListFiles(ctx, 20)
		return filesListedMsg{files: files, err: err}
	}
}

// writeReceivedFile lands a finished transfer in the download directory
// under a collision-free name and records it in the ledger.
func writeReceivedFile(opts ClientOptions, filename, sender, fileID string, data []byte) (string, error) {
	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return "", err
	}
	path := uniquePath(opts.DownloadDir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	if opts.Store != nil {
		sum := sha256.Sum256(data)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := opts.Store.RecordFile(ctx, storage.ReceivedFile{
			FileID:    fileID,
			Filename:  filepath.Base(filename),
			SizeBytes: int64(len(data)),
			Sender:    sender,
			SHA256:    hex.EncodeToString(sum[:]),
			Path:      path,
		})
		if err != nil {
			return path, fmt.Errorf("file saved but not recorded: %w", err)
		}
	}
	return path, nil
}

// uniquePath appends " (n)" before the extension until the name is free.
func uniquePath(dir, filename string) string {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (model *TUIModel) appendChat(sender, body string, ts time.Time) {
	model.appendLine(feedLine{ts: ts, sender: sender, body: body})
}

func (model *TUIModel) appendSystem(body string) {
	model.appendLine(feedLine{ts: time.Now(), body: body, system: true})
}

func (model *TUIModel) appendLine(line feedLine) {
	model.feed = append(model.feed, line)
	if len(model.feed) > model.maxFeed {
		model.feed = model.feed[len(model.feed)-model.maxFeed:]
	}
}

func (model *TUIModel) View() string {
	if model.mode == modeNamePrompt {
		title := appTitleStyle.Render("lanshare")
		hint := hintStyle.Render("Enter the name others will see, then press Enter.")
		return lipgloss.JoinVertical(lipgloss.Left, title, hint, inputBoxStyle.Render(model.textInput.View()))
	}
	return model.renderChatView()
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{
		"lanshare",
		fmt.Sprintf("User %s", model.username),
		fmt.Sprintf("Online %d", model.onlineCount),
		fmt.Sprintf("Server %s", model.opts.ServerURL),
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connErr != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connErr.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	var lines []string
	for _, entry := range model.feed {
		lines = append(lines, model.renderFeedLine(entry))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi, or /send a file."))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		statusLine,
		messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)),
		inputBoxStyle.Render(model.textInput.View()),
		hintStyle.Render("Commands: /send <path> to share a file, /files for received files, /quit to leave"),
	)
}

func (model *TUIModel) renderFeedLine(entry feedLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", entry.ts.Format("15:04:05")))
	if entry.system {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(entry.body))
	}
	var nameStyle lipgloss.Style
	if entry.sender == model.username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(entry.sender))
	}
	name := nameStyle.Render(displayName(entry.sender))
	body := messageBodyStyle.Render(strings.ReplaceAll(entry.body, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", body)
}

func displayName(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}

func parseWireTime(value string) time.Time {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed
	}
	return time.Now()
}

func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// RunClient launches the bubbletea program against the relay.
func RunClient(opts ClientOptions) error {
	program := tea.NewProgram(NewTUIModel(opts))
	_, err := program.Run()
	return err
}

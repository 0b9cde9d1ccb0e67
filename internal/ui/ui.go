package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/driftaudio/lofi-cli/internal/config"
	"github.com/driftaudio/lofi-cli/internal/pipeline"
	"github.com/driftaudio/lofi-cli/internal/status"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	RefreshInterval  = 100 * time.Millisecond
	CoarseVolumeStep = 5
	FineVolumeStep   = 1

	panelOuterWidth = PanelWidth + 4 // borders plus padding
	panelHeight     = 5              // three lines plus borders
)

// Commander receives playback commands produced by key presses.
type Commander interface {
	Submit(pipeline.Command)
}

type UI struct {
	app    *tview.Application
	cmds   Commander
	state  *status.State
	config *config.Config

	panel        *tview.Flex
	actionView   *tview.TextView
	progressView *tview.TextView
	helpView     *tview.TextView

	stopUpdates chan struct{}
	stopOnce    sync.Once

	muteMu      sync.Mutex
	isMuted     bool
	mutedVolume int

	colors struct {
		background tcell.Color
		foreground tcell.Color
		borders    tcell.Color
		highlight  tcell.Color
		helpText   tcell.Color
		helpHotkey tcell.Color
	}
}

func NewUI(cmds Commander, state *status.State, cfg *config.Config) *UI {
	ui := &UI{
		app:         tview.NewApplication(),
		cmds:        cmds,
		state:       state,
		config:      cfg,
		stopUpdates: make(chan struct{}),
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.helpText = config.GetColor(cfg.Theme.HelpText)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.HelpHotkey)

	return ui
}

func (ui *UI) Run() error {
	ui.setupUI()
	ui.configureScreen()

	go ui.refreshLoop()

	return ui.app.Run()
}

func (ui *UI) stop() {
	ui.stopOnce.Do(func() { close(ui.stopUpdates) })
	ui.app.Stop()
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

// SaveConfig persists the current volume so the next session starts with it.
// While muted, the pre-mute level is saved instead of zero.
func (ui *UI) SaveConfig() {
	ui.muteMu.Lock()
	volume := ui.state.Volume()
	if ui.isMuted {
		volume = ui.mutedVolume
	}
	ui.muteMu.Unlock()
	ui.config.Volume = volume

	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

func (ui *UI) setupUI() {
	newLine := func() *tview.TextView {
		tv := tview.NewTextView()
		tv.SetDynamicColors(true)
		tv.SetWrap(false)
		tv.SetTextColor(ui.colors.foreground)
		tv.SetBackgroundColor(ui.colors.background)
		return tv
	}

	ui.actionView = newLine()
	ui.progressView = newLine()
	ui.helpView = newLine()
	ui.helpView.SetTextColor(ui.colors.helpText)

	ui.panel = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.actionView, 1, 0, false).
		AddItem(ui.progressView, 1, 0, false).
		AddItem(ui.helpView, 1, 0, false)
	ui.panel.SetBorder(true)
	ui.panel.SetBorderColor(ui.colors.borders)
	ui.panel.SetBorderPadding(0, 0, 1, 1)
	ui.panel.SetBackgroundColor(ui.colors.background)
	ui.panel.SetTitle(" " + config.AppName + " ")
	ui.panel.SetTitleColor(ui.colors.highlight)

	centered := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 0, 1, false).
		AddItem(ui.panel, panelOuterWidth, 0, false).
		AddItem(nil, 0, 1, false)
	centered.SetBackgroundColor(ui.colors.background)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(centered, panelHeight, 0, false).
		AddItem(nil, 0, 1, false)
	root.SetBackgroundColor(ui.colors.background)

	ui.app.SetRoot(root, true)
	ui.app.SetInputCapture(ui.handleKey)

	ui.render(ui.state.Snapshot())
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

func (ui *UI) refreshLoop() {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ui.stopUpdates:
			return
		case <-ticker.C:
			snap := ui.state.Snapshot()
			ui.app.QueueUpdateDraw(func() {
				ui.render(snap)
			})
		}
	}
}

func (ui *UI) render(snap status.Snapshot) {
	ui.actionView.SetText(renderActionBar(snap, PanelWidth))
	ui.progressView.SetText(renderProgressBar(snap.Elapsed, snap.Duration, ProgressWidth))
	ui.helpView.SetText(renderHelpBar(snap, ui.colors.helpHotkey.String()))

	title := " " + config.AppName + " "
	if snap.TracksPlayed > 0 {
		title = fmt.Sprintf(" %s │ %d played ", config.AppName, snap.TracksPlayed)
	}
	ui.panel.SetTitle(title)
}

func (ui *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.quit()
			return nil
		case 's', 'S':
			ui.cmds.Submit(pipeline.Command{Kind: pipeline.CmdSkip})
			return nil
		case 'p', 'P', ' ':
			ui.cmds.Submit(pipeline.Command{Kind: pipeline.CmdTogglePause})
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case '+', '=':
			ui.adjustVolume(pipeline.CmdVolumeUp, CoarseVolumeStep)
			return nil
		case '-', '_':
			ui.adjustVolume(pipeline.CmdVolumeDown, CoarseVolumeStep)
			return nil
		case '.', '>':
			ui.adjustVolume(pipeline.CmdVolumeUp, FineVolumeStep)
			return nil
		case ',', '<':
			ui.adjustVolume(pipeline.CmdVolumeDown, FineVolumeStep)
			return nil
		}
	case tcell.KeyUp, tcell.KeyRight:
		ui.adjustVolume(pipeline.CmdVolumeUp, CoarseVolumeStep)
		return nil
	case tcell.KeyDown, tcell.KeyLeft:
		ui.adjustVolume(pipeline.CmdVolumeDown, CoarseVolumeStep)
		return nil
	case tcell.KeyEscape, tcell.KeyCtrlC:
		ui.quit()
		return nil
	}
	return event
}

// adjustVolume steps the volume; any manual adjustment clears the mute so
// the step lands on what is actually audible.
func (ui *UI) adjustVolume(kind pipeline.CommandKind, step int) {
	ui.muteMu.Lock()
	ui.isMuted = false
	ui.muteMu.Unlock()

	ui.cmds.Submit(pipeline.Command{Kind: kind, Value: step})
}

func (ui *UI) toggleMute() {
	ui.muteMu.Lock()
	if ui.isMuted {
		ui.isMuted = false
		restore := ui.mutedVolume
		if restore == 0 {
			restore = config.DefaultVolume
		}
		ui.muteMu.Unlock()

		log.Debug().Msgf("Unmuted, restoring volume to %d%%", restore)
		ui.cmds.Submit(pipeline.Command{Kind: pipeline.CmdVolumeSet, Value: restore})
		return
	}

	ui.mutedVolume = ui.state.Volume()
	ui.isMuted = true
	ui.muteMu.Unlock()

	log.Debug().Msg("Muted")
	ui.cmds.Submit(pipeline.Command{Kind: pipeline.CmdVolumeSet, Value: 0})
}

func (ui *UI) quit() {
	log.Debug().Msg("Quit requested from UI")
	ui.SaveConfig()
	ui.cmds.Submit(pipeline.Command{Kind: pipeline.CmdQuit})
	ui.stop()
}

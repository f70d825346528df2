package bikecomputer

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/bike-computer/internal/bt"
	"github.com/lowaak/bike-computer/internal/trail"
)

// Page names for tview.Pages
const (
	pageDashboard   = "dashboard"
	pageBTMenu      = "bt_menu"
	pageTrailPrompt = "trail_prompt"
)

// CursesUIViewImpl implements UIViewImpl using tview (curses-based terminal UI)
type CursesUIViewImpl struct {
	logger *log.Logger
	app    *tview.Application
	model  *UIModel

	// Root container: the dashboard plus the dialogs shown over it
	pages *tview.Pages

	logView  *tview.TextView
	mainFlex *tview.Flex // Main layout: readouts on left, logs on right

	speedPanel    *tview.TextView
	readoutsPanel *tview.TextView
	statusPanel   *tview.TextView

	btMenu      *tview.Modal
	trailPrompt *tview.Form

	// Only touched from the tview event loop
	dialogOpen bool
}

func NewCursesUIView(logger *log.Logger, app *tview.Application, model *UIModel) *CursesUIViewImpl {
	return &CursesUIViewImpl{
		logger: logger,
		app:    app,
		model:  model,
	}
}

// Initialize sets up the tview widgets
func (ui *CursesUIViewImpl) Initialize(controller *UIController) {
	// No SetChangedFunc with app.Draw(): BaseUIView draws after every update,
	// and drawing from here can hang once the app is stopped.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.speedPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	ui.speedPanel.SetBorder(true).SetTitle(" Speed ")

	ui.readoutsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.readoutsPanel.SetBorder(true).SetTitle(" Ride ")

	ui.statusPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.statusPanel.SetBorder(true).SetTitle(" Status ")

	instructionsText := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructionsText.SetText(keyHelpText)

	dashboardFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructionsText, 2, 0, false).
		AddItem(ui.speedPanel, 5, 0, false).
		AddItem(ui.readoutsPanel, 0, 1, false).
		AddItem(ui.statusPanel, 3, 0, false)

	ui.initBTMenu(controller)
	ui.initTrailPrompt(controller)

	ui.pages = tview.NewPages()
	ui.pages.AddPage(pageDashboard, dashboardFlex, true, true)
	ui.pages.AddPage(pageBTMenu, ui.btMenu, true, false)
	ui.pages.AddPage(pageTrailPrompt, centered(ui.trailPrompt, 50, 7), true, false)

	ui.mainFlex = tview.NewFlex().
		AddItem(ui.pages, 0, 1, true).
		AddItem(ui.logView, 0, 1, false)
}

func (ui *CursesUIViewImpl) initBTMenu(controller *UIController) {
	ui.btMenu = tview.NewModal().
		SetText(btMenuTitle).
		AddButtons(BTActionNames()).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			ui.closeDialog(pageBTMenu)
			action, ok := GetBTActionByName(buttonLabel)
			if !ok {
				return
			}
			controller.OnBTAction(action)
		})
}

func (ui *CursesUIViewImpl) initTrailPrompt(controller *UIController) {
	ui.trailPrompt = tview.NewForm()
	ui.trailPrompt.SetBorder(true).SetTitle(" " + trailPromptName + " ")
	ui.trailPrompt.AddInputField(trailPromptText, "", 30, nil, nil)
	ui.trailPrompt.AddButton("OK", func() {
		name := ui.trailNameField().GetText()
		ui.closeDialog(pageTrailPrompt)
		controller.StartTrail(name)
	})
	ui.trailPrompt.AddButton("Cancel", func() {
		ui.closeDialog(pageTrailPrompt)
		controller.StartTrail("")
	})
	ui.trailPrompt.SetCancelFunc(func() {
		ui.closeDialog(pageTrailPrompt)
		controller.StartTrail("")
	})
}

func (ui *CursesUIViewImpl) trailNameField() *tview.InputField {
	return ui.trailPrompt.GetFormItem(0).(*tview.InputField)
}

// centered wraps p in a flex that keeps it at width x height in the middle.
func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

func (ui *CursesUIViewImpl) openDialog(page string, focus tview.Primitive) {
	ui.dialogOpen = true
	ui.pages.ShowPage(page)
	ui.app.SetFocus(focus)
}

func (ui *CursesUIViewImpl) closeDialog(page string) {
	ui.dialogOpen = false
	ui.pages.HidePage(page)
	ui.app.SetFocus(ui.pages)
}

func (ui *CursesUIViewImpl) openTrailPrompt() {
	ui.trailNameField().SetText(ui.model.LastTrailName())
	ui.trailPrompt.SetFocus(0)
	ui.openDialog(pageTrailPrompt, ui.trailPrompt)
}

// SetupKeyboardHandlers sets up keyboard event handlers
func (ui *CursesUIViewImpl) SetupKeyboardHandlers(controller *UIController) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Dialogs handle their own keys, including Escape
		if ui.dialogOpen {
			return event
		}

		if event.Key() == tcell.KeyEscape {
			controller.OnEscapeKey()
			return nil
		}

		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'b':
			ui.openDialog(pageBTMenu, ui.btMenu)
		case 'c':
			controller.Connect()
		case 'd':
			controller.Disconnect()
		case 'x':
			controller.CancelConnecting()
		case 't':
			if controller.IsTrailActive() {
				controller.StopTrail()
			} else {
				ui.openTrailPrompt()
			}
		default:
			return event
		}
		return nil
	})
}

// GetLogViewHeight returns the visible height of the log view
func (ui *CursesUIViewImpl) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

// ClearLogView clears the log view
func (ui *CursesUIViewImpl) ClearLogView() {
	ui.logView.Clear()
}

// WriteLogLine writes a line to the log view
func (ui *CursesUIViewImpl) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

// UpdateDashboard renders the readouts
func (ui *CursesUIViewImpl) UpdateDashboard(d Dashboard) {
	if ui.speedPanel == nil {
		return
	}
	ui.speedPanel.SetText(fmt.Sprintf("\n[::b]%s[::-] mph", d.Speed))

	var b strings.Builder
	fmt.Fprintf(&b, " %s %s\n\n", connectionDot(d.Connection), tview.Escape(d.ConnectionLabel()))
	fmt.Fprintf(&b, " [gray]Location[white]  %s\n", tview.Escape(d.Location))
	fmt.Fprintf(&b, " [gray]Heading[white]   %s\n\n", tview.Escape(d.Heading))
	if d.Trail == trail.Active {
		fmt.Fprintf(&b, " [red]●[white] %s  [gray](%s)[white]\n", d.TrailLabel(), tview.Escape(d.TrailName))
		fmt.Fprintf(&b, "   %d points, %.2f km\n", d.TrailPoints, d.TrailKm)
	} else {
		fmt.Fprintf(&b, " [gray]●[white] %s\n", d.TrailLabel())
	}
	ui.readoutsPanel.SetText(b.String())

	ui.statusPanel.SetText(" " + tview.Escape(d.Status))
}

func connectionDot(state bt.ConnectionState) string {
	switch state {
	case bt.Connected:
		return "[green]●[white]"
	case bt.Connecting:
		return "[yellow]●[white]"
	default:
		return "[gray]●[white]"
	}
}

// Draw refreshes/redraws the UI
func (ui *CursesUIViewImpl) Draw() error {
	ui.app.Draw()
	return nil
}

// Run starts the UI and blocks until it exits
func (ui *CursesUIViewImpl) Run() error {
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.pages)
	return ui.app.Run()
}

// Stop stops the UI framework
func (ui *CursesUIViewImpl) Stop() {
	ui.app.Stop()
}
